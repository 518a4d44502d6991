package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertBlock inserts or replaces a block with its children and references
// within a transaction.
func (s *Store) UpsertBlock(ctx context.Context, b *models.Block) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertBlock(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertBlock(ctx context.Context, tx execer, b *models.Block) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (id, text, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			text       = excluded.text,
			updated_at = excluded.updated_at
	`, b.ID, b.Text)
	if err != nil {
		return fmt.Errorf("graph: upsert block %d: %w", b.ID, err)
	}

	// Replace children and references: delete old then insert in order.
	_, _ = tx.ExecContext(ctx, `DELETE FROM block_children WHERE parent_id = ?`, b.ID)
	_, _ = tx.ExecContext(ctx, `DELETE FROM ref_properties WHERE ref_id IN (SELECT id FROM refs WHERE source_id = ?)`, b.ID)
	_, _ = tx.ExecContext(ctx, `DELETE FROM refs WHERE source_id = ?`, b.ID)

	for i, child := range b.Children {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO block_children (parent_id, position, child_id) VALUES (?, ?, ?)`,
			b.ID, i, child); err != nil {
			return fmt.Errorf("graph: insert child: %w", err)
		}
	}

	for i, ref := range b.Refs {
		if err := insertRef(ctx, tx, b.ID, i, ref); err != nil {
			return err
		}
	}
	return nil
}

func insertRef(ctx context.Context, tx execer, source models.BlockID, pos int, ref models.Reference) error {
	kind := refKindPlain
	var props []models.Property
	if tag, ok := ref.(*models.TagRef); ok {
		kind = refKindTag
		props = tag.Properties
	}

	// The source's own refs were deleted by upsertBlock, so any row left
	// with this id belongs to another block or repeats one of ours.
	var owner models.BlockID
	err := tx.QueryRowContext(ctx, `SELECT source_id FROM refs WHERE id = ?`, ref.RefID()).Scan(&owner)
	switch {
	case err == nil:
		return fmt.Errorf("graph: ref %d of block %d is owned by block %d: %w",
			ref.RefID(), source, owner, apperr.ErrAlreadyExists)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("graph: check ref %d: %w", ref.RefID(), err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refs (id, source_id, target_id, kind, position)
		VALUES (?, ?, ?, ?, ?)
	`, ref.RefID(), source, ref.Target(), kind, pos)
	if err != nil {
		return fmt.Errorf("graph: insert ref %d: %w", ref.RefID(), err)
	}

	for i, p := range props {
		pkind, value, err := encodeProperty(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ref_properties (ref_id, position, name, kind, value) VALUES (?, ?, ?, ?, ?)`,
			ref.RefID(), i, p.PropertyName(), pkind, value); err != nil {
			return fmt.Errorf("graph: insert ref property: %w", err)
		}
	}
	return nil
}

func encodeProperty(p models.Property) (models.PropertyKind, string, error) {
	switch v := p.(type) {
	case models.ReferenceSet:
		ids := v.IDs
		if ids == nil {
			ids = []models.RefID{}
		}
		data, err := json.Marshal(ids)
		if err != nil {
			return 0, "", fmt.Errorf("graph: encode property %q: %w", v.Name, err)
		}
		return models.PropertyBlockRefs, string(data), nil
	case models.Scalar:
		return models.PropertyText, v.Value, nil
	default:
		return 0, "", fmt.Errorf("graph: unsupported property type %T", p)
	}
}

func decodeProperty(name string, kind models.PropertyKind, value string) (models.Property, error) {
	if kind != models.PropertyBlockRefs {
		return models.Scalar{Name: name, Value: value}, nil
	}
	var ids []models.RefID
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		return nil, fmt.Errorf("graph: decode property %q: %w", name, err)
	}
	return models.ReferenceSet{Name: name, IDs: ids}, nil
}

// CreateAliasedRoot creates a root block whose text is name and binds the
// alias name to it in one transaction. If the alias already exists nothing
// is written and apperr.ErrAlreadyExists is returned.
func (s *Store) CreateAliasedRoot(ctx context.Context, name string) (models.BlockID, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `INSERT INTO blocks (text) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("graph: insert block: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("graph: insert block id: %w", err)
	}
	if err := createAlias(ctx, tx, name, models.BlockID(id)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("graph: commit: %w", err)
	}
	return models.BlockID(id), nil
}

// FetchRemote loads a block with its children and references from the
// database. It returns apperr.ErrBlockNotFound when no such block exists.
func (s *Store) FetchRemote(ctx context.Context, id models.BlockID) (*models.Block, error) {
	b := &models.Block{ID: id, Children: []models.BlockID{}}
	err := s.conn.QueryRowContext(ctx, `SELECT text FROM blocks WHERE id = ?`, id).Scan(&b.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("graph: fetch block %d: %w", id, apperr.ErrBlockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("graph: fetch block %d: %w", id, err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT child_id FROM block_children WHERE parent_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch children: %w", err)
	}
	for rows.Next() {
		var child models.BlockID
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return nil, err
		}
		b.Children = append(b.Children, child)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs, err := s.fetchRefs(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Refs = refs
	return b, nil
}

func (s *Store) fetchRefs(ctx context.Context, source models.BlockID) ([]models.Reference, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT r.id, r.target_id, r.kind, p.name, p.kind, p.value
		FROM refs r
		LEFT JOIN ref_properties p ON p.ref_id = r.id
		WHERE r.source_id = ?
		ORDER BY r.position, p.position
	`, source)
	if err != nil {
		return nil, fmt.Errorf("graph: fetch refs: %w", err)
	}
	defer rows.Close()

	var out []models.Reference
	var last *models.TagRef
	for rows.Next() {
		var (
			refID  models.RefID
			target models.BlockID
			kind   int
			pname  sql.NullString
			pkind  sql.NullInt64
			pvalue sql.NullString
		)
		if err := rows.Scan(&refID, &target, &kind, &pname, &pkind, &pvalue); err != nil {
			return nil, err
		}

		if kind != refKindTag {
			out = append(out, models.PlainRef{ID: refID, To: target})
			last = nil
			continue
		}
		if last == nil || last.ID != refID {
			last = &models.TagRef{ID: refID, To: target}
			out = append(out, last)
		}
		if pname.Valid {
			prop, err := decodeProperty(pname.String, models.PropertyKind(pkind.Int64), pvalue.String)
			if err != nil {
				return nil, err
			}
			last.Properties = append(last.Properties, prop)
		}
	}
	return out, rows.Err()
}

// RootIDByAlias returns the block bound to name. ok is false when the
// alias does not exist.
func (s *Store) RootIDByAlias(ctx context.Context, name string) (id models.BlockID, ok bool, err error) {
	err = s.conn.QueryRowContext(ctx, `SELECT block_id FROM aliases WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("graph: alias %q: %w", name, err)
	}
	return id, true, nil
}

// CreateAlias binds name to id. Aliases are unique; rebinding an existing
// name returns apperr.ErrAlreadyExists.
func (s *Store) CreateAlias(ctx context.Context, name string, id models.BlockID) error {
	return createAlias(ctx, s.conn, name, id)
}

func createAlias(ctx context.Context, tx execer, name string, id models.BlockID) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO aliases (name, block_id) VALUES (?, ?)`, name, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("graph: alias %q: %w", name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("graph: create alias %q: %w", name, err)
	}
	return nil
}

// ResolveMirror returns the canonical block for id. Blocks that are not
// mirrors resolve to themselves.
func (s *Store) ResolveMirror(ctx context.Context, id models.BlockID) (models.BlockID, error) {
	var canonical models.BlockID
	err := s.conn.QueryRowContext(ctx, `SELECT canonical_id FROM mirrors WHERE block_id = ?`, id).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("graph: resolve mirror %d: %w", id, err)
	}
	return canonical, nil
}

// SetMirror records mirror as a stand-in for canonical.
func (s *Store) SetMirror(ctx context.Context, mirror, canonical models.BlockID) error {
	return setMirror(ctx, s.conn, mirror, canonical)
}

func setMirror(ctx context.Context, tx execer, mirror, canonical models.BlockID) error {
	if mirror == canonical {
		return fmt.Errorf("graph: block %d cannot mirror itself", mirror)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO mirrors (block_id, canonical_id) VALUES (?, ?)
		ON CONFLICT(block_id) DO UPDATE SET canonical_id = excluded.canonical_id
	`, mirror, canonical)
	if err != nil {
		return fmt.Errorf("graph: set mirror %d: %w", mirror, err)
	}
	return nil
}

// SetTagSchema replaces the property schema declared by a tag block.
func (s *Store) SetTagSchema(ctx context.Context, id models.BlockID, props []models.PropertySchema) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := setTagSchema(ctx, tx, id, props); err != nil {
		return err
	}
	return tx.Commit()
}

func setTagSchema(ctx context.Context, tx execer, id models.BlockID, props []models.PropertySchema) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM tag_schema WHERE block_id = ?`, id)
	for i, p := range props {
		choices := p.Choices
		if choices == nil {
			choices = []string{}
		}
		choicesJSON, _ := json.Marshal(choices)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tag_schema (block_id, position, name, kind, sub_type, choices)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, i, p.Name, p.Kind, p.SubType, string(choicesJSON)); err != nil {
			return fmt.Errorf("graph: set tag schema %q: %w", p.Name, err)
		}
	}
	return nil
}

// TagSchema returns the property schema declared by a tag block.
func (s *Store) TagSchema(ctx context.Context, id models.BlockID) ([]models.PropertySchema, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, kind, sub_type, choices FROM tag_schema
		WHERE block_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("graph: tag schema: %w", err)
	}
	defer rows.Close()

	var out []models.PropertySchema
	for rows.Next() {
		var (
			p       models.PropertySchema
			choices string
		)
		if err := rows.Scan(&p.Name, &p.Kind, &p.SubType, &choices); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(choices), &p.Choices)
		out = append(out, p)
	}
	return out, rows.Err()
}
