package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// blockID parses the {id} URL parameter.
func blockID(r *http.Request) (models.BlockID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return models.BlockID(id), true
}

// decodeInvocation reads an optional GenerateRequest body. An empty body
// is an empty invocation.
func decodeInvocation(w http.ResponseWriter, r *http.Request) (magic.Invocation, bool) {
	var inv magic.Invocation
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return inv, false
	}
	return inv, true
}

// GetBlock handles GET /api/blocks/{id}.
//
//	@Summary		Get a block with its children and references
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	BlockDTO
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	b, err := h.svc.GetBlock(r.Context(), id)
	if err != nil {
		writeError(w, r, "get block", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PutBlock handles PUT /api/blocks/{id}.
//
//	@Summary		Create or replace a block
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int			true	"Block id"
//	@Param			body	body		BlockDTO	true	"Block contents"
//	@Success		200		{object}	BlockDTO
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [put]
func (h *Handler) PutBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var dto BlockDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	b, err := h.svc.PutBlock(r.Context(), id, dto)
	if err != nil {
		writeError(w, r, "put block", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetAlias handles GET /api/aliases/{name}.
//
//	@Summary		Resolve a root alias
//	@Tags			blocks
//	@Produce		json
//	@Param			name	path		string	true	"Alias name"
//	@Success		200		{object}	AliasResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/aliases/{name} [get]
func (h *Handler) GetAlias(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Alias(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, "get alias", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Preview handles POST /api/preview.
//
//	@Summary		Resolve the template and assemble prompts without calling the provider
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	true	"Target block"
//	@Success		200		{object}	PreviewResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	inv, ok := decodeInvocation(w, r)
	if !ok {
		return
	}
	h.preview(w, r, inv)
}

// PreviewBlock handles POST /api/blocks/{id}/preview.
//
//	@Summary		Preview the prompts for one block
//	@Tags			generate
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	PreviewResponse
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id}/preview [post]
func (h *Handler) PreviewBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	h.preview(w, r, magic.Invocation{BlockID: id})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request, inv magic.Invocation) {
	prep, err := h.svc.Preview(r.Context(), inv)
	if err != nil {
		writeError(w, r, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, prep)
}

// Generate handles POST /api/generate.
//
//	@Summary		Run the generate command
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GenerateRequest	true	"Target block, cursor_block_id is the fallback"
//	@Success		200		{object}	GenerateResponse
//	@Failure		404		{object}	GenerateResponse
//	@Failure		422		{object}	GenerateResponse
//	@Failure		502		{object}	GenerateResponse
//	@Security		BearerAuth
//	@Router			/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	inv, ok := decodeInvocation(w, r)
	if !ok {
		return
	}
	h.generate(w, r, inv)
}

// GenerateBlock handles POST /api/blocks/{id}/generate.
//
//	@Summary		Run the generate command on one block
//	@Tags			generate
//	@Produce		json
//	@Param			id	path		int	true	"Block id"
//	@Success		200	{object}	GenerateResponse
//	@Failure		404	{object}	GenerateResponse
//	@Failure		422	{object}	GenerateResponse
//	@Failure		502	{object}	GenerateResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id}/generate [post]
func (h *Handler) GenerateBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	h.generate(w, r, magic.Invocation{BlockID: id})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, inv magic.Invocation) {
	out := h.svc.Generate(r.Context(), inv)
	status := http.StatusOK
	if out.Err != nil {
		status = statusFor(out.Err)
	}
	writeJSON(w, status, out)
}
