package graph

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp("", "magic-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	for _, table := range []string{"blocks", "block_children", "refs", "ref_properties", "aliases", "mirrors", "tag_schema"} {
		var count int
		if err := s.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndFetch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	in := &models.Block{
		ID:       10,
		Text:     "parent",
		Children: []models.BlockID{12, 11},
		Refs: []models.Reference{
			&models.TagRef{ID: 100, To: 1, Properties: []models.Property{
				models.ReferenceSet{Name: "magic", IDs: []models.RefID{101}},
				models.Scalar{Name: "ai", Value: "reference"},
			}},
			models.PlainRef{ID: 101, To: 20},
		},
	}
	if err := s.UpsertBlock(ctx, in); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	got, err := s.FetchRemote(ctx, 10)
	if err != nil {
		t.Fatalf("FetchRemote: %v", err)
	}
	if got.Text != "parent" {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Children) != 2 || got.Children[0] != 12 || got.Children[1] != 11 {
		t.Errorf("children = %v, want [12 11]", got.Children)
	}
	if len(got.Refs) != 2 {
		t.Fatalf("refs = %d, want 2", len(got.Refs))
	}
	tag, ok := got.Refs[0].(*models.TagRef)
	if !ok {
		t.Fatalf("first ref is %T, want *TagRef", got.Refs[0])
	}
	if tag.ID != 100 || tag.To != 1 || len(tag.Properties) != 2 {
		t.Fatalf("tag = %+v", tag)
	}
	set, ok := tag.Property("magic").(models.ReferenceSet)
	if !ok || len(set.IDs) != 1 || set.IDs[0] != 101 {
		t.Errorf("magic property = %+v", tag.Property("magic"))
	}
	if sc, ok := tag.Property("ai").(models.Scalar); !ok || sc.Value != "reference" {
		t.Errorf("ai property = %+v", tag.Property("ai"))
	}
	if plain, ok := got.Refs[1].(models.PlainRef); !ok || plain.To != 20 {
		t.Errorf("second ref = %+v", got.Refs[1])
	}
}

func TestUpsertReplacesChildrenAndRefs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_ = s.UpsertBlock(ctx, &models.Block{ID: 1, Text: "old", Children: []models.BlockID{2, 3},
		Refs: []models.Reference{models.PlainRef{ID: 7, To: 2}}})
	_ = s.UpsertBlock(ctx, &models.Block{ID: 1, Text: "new", Children: []models.BlockID{4}})

	got, err := s.FetchRemote(ctx, 1)
	if err != nil {
		t.Fatalf("FetchRemote: %v", err)
	}
	if got.Text != "new" || len(got.Children) != 1 || got.Children[0] != 4 {
		t.Errorf("block = %+v", got)
	}
	if len(got.Refs) != 0 {
		t.Errorf("old refs should be removed, got %d", len(got.Refs))
	}
}

func TestFetchRemote_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.FetchRemote(context.Background(), 404)
	if !errors.Is(err, apperr.ErrBlockNotFound) {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
}

func TestAliases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.RootIDByAlias(ctx, "Magic"); err != nil || ok {
		t.Fatalf("missing alias: ok=%v err=%v", ok, err)
	}
	id, err := s.CreateAliasedRoot(ctx, "Magic")
	if err != nil {
		t.Fatalf("CreateAliasedRoot: %v", err)
	}
	got, ok, err := s.RootIDByAlias(ctx, "Magic")
	if err != nil || !ok || got != id {
		t.Fatalf("RootIDByAlias = %d, %v, %v; want %d", got, ok, err, id)
	}
	if err := s.CreateAlias(ctx, "Magic", id+1); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate alias err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateAliasedRoot_ConflictLeavesNoBlock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CreateAliasedRoot(ctx, "Magic"); err != nil {
		t.Fatalf("CreateAliasedRoot: %v", err)
	}
	if _, err := s.CreateAliasedRoot(ctx, "Magic"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("second create err = %v, want ErrAlreadyExists", err)
	}

	var blocks int
	if err := s.conn.QueryRow(`SELECT count(*) FROM blocks`).Scan(&blocks); err != nil {
		t.Fatal(err)
	}
	if blocks != 1 {
		t.Errorf("blocks = %d, want 1", blocks)
	}
}

func TestResolveMirror(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.SetMirror(ctx, 25, 20); err != nil {
		t.Fatalf("SetMirror: %v", err)
	}
	if got, _ := s.ResolveMirror(ctx, 25); got != 20 {
		t.Errorf("mirror 25 -> %d, want 20", got)
	}
	if got, _ := s.ResolveMirror(ctx, 20); got != 20 {
		t.Errorf("canonical 20 -> %d, want 20", got)
	}
	if err := s.SetMirror(ctx, 5, 5); err == nil {
		t.Error("self mirror should fail")
	}
}

func TestTagSchema(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	schema := []models.PropertySchema{{
		Name:    "ai",
		Kind:    models.PropertyTextChoices,
		SubType: "single",
		Choices: []string{"template", "reference"},
	}}
	if err := s.SetTagSchema(ctx, 1, schema); err != nil {
		t.Fatalf("SetTagSchema: %v", err)
	}
	got, err := s.TagSchema(ctx, 1)
	if err != nil {
		t.Fatalf("TagSchema: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ai" || got[0].Kind != models.PropertyTextChoices ||
		got[0].SubType != "single" || len(got[0].Choices) != 2 {
		t.Errorf("schema = %+v", got)
	}
}

func TestUpsertRejectsRefOwnedByAnotherBlock(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := &models.Block{ID: 10, Refs: []models.Reference{
		&models.TagRef{ID: 500, To: 1, Properties: []models.Property{
			models.ReferenceSet{Name: "magic", IDs: []models.RefID{501}},
		}},
		models.PlainRef{ID: 501, To: 20},
	}}
	if err := s.UpsertBlock(ctx, owner); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	err := s.UpsertBlock(ctx, &models.Block{ID: 11, Refs: []models.Reference{models.PlainRef{ID: 500, To: 3}}})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if _, err := s.FetchRemote(ctx, 11); !errors.Is(err, apperr.ErrBlockNotFound) {
		t.Errorf("rejected block was written: %v", err)
	}

	got, err := s.FetchRemote(ctx, 10)
	if err != nil {
		t.Fatalf("FetchRemote: %v", err)
	}
	if len(got.Refs) != 2 {
		t.Fatalf("owner refs = %d, want 2", len(got.Refs))
	}
	if _, ok := got.Refs[0].(*models.TagRef); !ok {
		t.Errorf("owner lost its tag ref: %#v", got.Refs[0])
	}

	// Rewriting the owner with its own ref ids is fine.
	if err := s.UpsertBlock(ctx, owner); err != nil {
		t.Errorf("re-upsert owner: %v", err)
	}
}
