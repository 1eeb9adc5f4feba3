package main

import (
	"os"
	"path/filepath"
	"testing"
)

const accountsSDL = `
type Query { me: User! }
type User @key(fields: "id") { id: ID! name: String! }
`

const reviewsSDL = `
type User @key(fields: "id") { id: ID! @external reviewCount: Int! }
`

func writeSchema(t *testing.T, dir, name, sdl string) string {
	t.Helper()
	path := filepath.Join(dir, name+".graphql")
	if err := os.WriteFile(path, []byte(sdl), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestParseSubgraphSpec(t *testing.T) {
	s, err := parseSubgraphSpec("accounts=http://accounts:4001=accounts.graphql")
	if err != nil {
		t.Fatalf("parseSubgraphSpec() error = %v", err)
	}
	if s.Name != "accounts" || s.Host != "http://accounts:4001" || s.File != "accounts.graphql" {
		t.Fatalf("unexpected spec: %+v", s)
	}

	if _, err := parseSubgraphSpec("accounts=not-enough-parts"); err == nil {
		t.Fatal("expected an error for a malformed spec")
	}
}

func TestValidateSDLFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeSchema(t, dir, "accounts", accountsSDL)
	if err := validateSDLFiles([]string{good}); err != nil {
		t.Fatalf("validateSDLFiles() error = %v", err)
	}

	bad := writeSchema(t, dir, "broken", "this is not valid SDL { { { ]]]")
	if err := validateSDLFiles([]string{bad}); err == nil {
		t.Fatal("expected an error for invalid SDL")
	}
}

func TestBuildQueryGraphAndPlan(t *testing.T) {
	dir := t.TempDir()
	accountsFile := writeSchema(t, dir, "accounts", accountsSDL)
	reviewsFile := writeSchema(t, dir, "reviews", reviewsSDL)

	specs := []subgraphSpec{
		{Name: "accounts", Host: "http://accounts", File: accountsFile},
		{Name: "reviews", Host: "http://reviews", File: reviewsFile},
	}

	sg, qg, err := buildQueryGraph(specs)
	if err != nil {
		t.Fatalf("buildQueryGraph() error = %v", err)
	}
	if sg == nil || qg == nil {
		t.Fatal("expected a non-nil supergraph and query graph")
	}
	if summary := queryGraphSummary(qg); summary == "" {
		t.Fatal("expected a non-empty query graph summary")
	}

	node, _, err := planQuery(specs, `{ me { id name } }`)
	if err != nil {
		t.Fatalf("planQuery() error = %v", err)
	}
	if node == nil {
		t.Fatal("expected a non-nil plan node")
	}

	rendered, err := renderPlan(node, false)
	if err != nil {
		t.Fatalf("renderPlan() error = %v", err)
	}
	if rendered == "" {
		t.Fatal("expected non-empty rendered plan text")
	}

	renderedJSON, err := renderPlan(node, true)
	if err != nil {
		t.Fatalf("renderPlan(json) error = %v", err)
	}
	if renderedJSON == "" || renderedJSON[0] != '{' {
		t.Fatalf("expected JSON object, got %q", renderedJSON)
	}
}

func TestExtractAndExpandSupergraph(t *testing.T) {
	dir := t.TempDir()
	accountsFile := writeSchema(t, dir, "accounts", accountsSDL)
	reviewsFile := writeSchema(t, dir, "reviews", reviewsSDL)

	specs := []subgraphSpec{
		{Name: "accounts", Host: "http://accounts", File: accountsFile},
		{Name: "reviews", Host: "http://reviews", File: reviewsFile},
	}

	destDir := filepath.Join(dir, "out")
	out, err := extractSupergraph(specs, destDir)
	if err != nil {
		t.Fatalf("extractSupergraph() error = %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty supergraph SDL")
	}

	expandDir := filepath.Join(dir, "expanded")
	written, err := expandSupergraph(specs, expandDir, "")
	if err != nil {
		t.Fatalf("expandSupergraph() error = %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("expected 2 files, got %d", len(written))
	}

	filtered, err := expandSupergraph(specs, expandDir, "rev")
	if err != nil {
		t.Fatalf("expandSupergraph(filter) error = %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 file with prefix filter, got %d", len(filtered))
	}
}

func TestBenchPlan(t *testing.T) {
	dir := t.TempDir()
	accountsFile := writeSchema(t, dir, "accounts", accountsSDL)
	specs := []subgraphSpec{{Name: "accounts", Host: "http://accounts", File: accountsFile}}

	elapsed, err := benchPlan(specs, `{ me { id name } }`, 5)
	if err != nil {
		t.Fatalf("benchPlan() error = %v", err)
	}
	if elapsed <= 0 {
		t.Fatal("expected a positive elapsed duration")
	}
}

func TestComposeSDLFiles(t *testing.T) {
	dir := t.TempDir()
	accountsFile := writeSchema(t, dir, "accounts", accountsSDL)
	reviewsFile := writeSchema(t, dir, "reviews", reviewsSDL)

	sg, err := composeSDLFiles([]string{accountsFile, reviewsFile})
	if err != nil {
		t.Fatalf("composeSDLFiles() error = %v", err)
	}
	if sg.Schema == nil {
		t.Fatal("expected a composed schema")
	}
}
