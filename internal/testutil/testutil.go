// Package testutil provides shared test helpers for setting up graph stores.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/magic/internal/graph"
)

// TestStore creates a temporary SQLite graph store that is automatically cleaned up.
func TestStore(t *testing.T) *graph.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "magic-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := graph.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestGraph creates a temporary graph loaded with the given YAML seed.
func TestGraph(t *testing.T, seedYAML string) *graph.Graph {
	t.Helper()
	g := graph.New(TestStore(t))
	if seedYAML == "" {
		return g
	}
	seed, err := graph.ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if err := g.ApplySeed(context.Background(), seed); err != nil {
		t.Fatalf("ApplySeed: %v", err)
	}
	return g
}

// TemplateSeed is a small graph with a "Magic" tag, a template reached
// through a mirror, and a target block that uses it.
const TemplateSeed = `
blocks:
  - id: 1
    text: Magic
  - id: 20
    text: Helper template
    children: [21, 22]
  - id: 21
    text: "You are helpful. "
  - id: 22
    text: Be concise.
  - id: 25
    text: Helper template (mirror)
  - id: 30
    text: Ask
    children: [31, 32]
    refs:
      - id: 300
        to: 1
        kind: tag
        properties:
          - name: magic
            ids: [301]
          - name: ai
            value: reference
      - id: 301
        to: 25
  - id: 31
    text: Hi
  - id: 32
    text: there
aliases:
  Magic: 1
mirrors:
  25: 20
`
