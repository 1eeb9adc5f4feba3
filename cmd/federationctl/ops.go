// The federationctl binary's subcommands are thin cobra wrappers around the
// functions in this file, kept separate so the core logic is testable
// without exercising cobra's command tree — the teacher's own
// cmd/federation-gateway/main.go had no tests, but federation/planner and
// federation/schema both show the corpus's preference for pure, testable
// functions behind a thin CLI shell.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/operation"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/planner"
	"github.com/fedgraph/planner/federation/sdlparse"
	"github.com/fedgraph/planner/federation/schema"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// validateSDLFiles reports a parse error, if any, across every file.
func validateSDLFiles(paths []string) error {
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if err := sdlparse.Validate(src); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// composeSDLFiles runs sdlparse's best-effort structural merge over paths,
// naming each subgraph after its base filename (without extension).
func composeSDLFiles(paths []string) (*sdlparse.SubGraph, error) {
	subGraphs := make([]*sdlparse.SubGraph, 0, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		sg, err := sdlparse.Parse(name, src, "")
		if err != nil {
			return nil, err
		}
		subGraphs = append(subGraphs, sg)
	}

	merged, err := sdlparse.Compose(subGraphs)
	if err != nil {
		return nil, err
	}
	return &sdlparse.SubGraph{Name: "supergraph", Schema: merged}, nil
}

// subgraphSpec is one `--subgraph name=host=file.graphql` CLI argument,
// federated-graph/query-graph/plan's way of naming multiple subgraphs on
// one command line without a gateway.yaml.
type subgraphSpec struct {
	Name string
	Host string
	File string
}

func parseSubgraphSpec(raw string) (subgraphSpec, error) {
	parts := strings.SplitN(raw, "=", 3)
	if len(parts) != 3 {
		return subgraphSpec{}, fmt.Errorf("invalid --subgraph %q, want name=host=file.graphql", raw)
	}
	return subgraphSpec{Name: parts[0], Host: parts[1], File: parts[2]}, nil
}

// buildSuperGraph parses and composes the named subgraphs into a federated
// SuperGraph using the real federation/schema engine (not sdlparse's
// shape-only parser), the way `federated-graph`, `query-graph`, `plan`, and
// `bench` all need a fully resolved supergraph to operate against.
func buildSuperGraph(specs []subgraphSpec) (*schema.SuperGraph, error) {
	subGraphs := make([]*schema.SubGraph, 0, len(specs))
	for _, s := range specs {
		src, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.File, err)
		}
		sg, err := schema.NewSubGraph(s.Name, src, s.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", s.Name, err)
		}
		subGraphs = append(subGraphs, sg)
	}
	return schema.NewSuperGraph(subGraphs)
}

// buildQueryGraph composes specs into a SuperGraph and builds the query
// graph over it, for `query-graph`.
func buildQueryGraph(specs []subgraphSpec) (*schema.SuperGraph, *graph.QueryGraph, error) {
	sg, err := buildSuperGraph(specs)
	if err != nil {
		return nil, nil, err
	}
	qg, err := graph.Build(sg)
	if err != nil {
		return nil, nil, fmt.Errorf("query graph construction failed: %w", err)
	}
	return sg, qg, nil
}

// queryGraphSummary renders a one-line-per-vertex summary of qg, enough to
// sanity check composition without pretty-printing the full edge set.
func queryGraphSummary(qg *graph.QueryGraph) string {
	var b strings.Builder
	for id, v := range qg.Vertices {
		fmt.Fprintf(&b, "%s: %d edges\n", id.String(), len(v.Out))
	}
	return b.String()
}

// planQuery plans queryDoc against the supergraph composed from specs,
// returning the plan tree and any planner warnings, for `plan`.
func planQuery(specs []subgraphSpec, queryDoc string) (*plan.Node, []planner.Warning, error) {
	sg, qg, err := buildQueryGraph(specs)
	if err != nil {
		return nil, nil, err
	}

	l := lexer.New(queryDoc)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, nil, fmt.Errorf("failed to parse query: %v", p.Errors())
	}

	op, err := operation.Build(doc, "", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build operation: %w", err)
	}

	pl := planner.New(sg, qg, planner.DefaultConfig())
	return pl.Plan(op)
}

// benchPlan plans queryDoc against specs n times and returns the total
// elapsed wall time, for `bench`.
func benchPlan(specs []subgraphSpec, queryDoc string, n int) (time.Duration, error) {
	sg, qg, err := buildQueryGraph(specs)
	if err != nil {
		return 0, err
	}

	l := lexer.New(queryDoc)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return 0, fmt.Errorf("failed to parse query: %v", p.Errors())
	}
	op, err := operation.Build(doc, "", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build operation: %w", err)
	}

	pl := planner.New(sg, qg, planner.DefaultConfig())
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, _, err := pl.Plan(op); err != nil {
			return 0, fmt.Errorf("plan %d/%d failed: %w", i+1, n, err)
		}
	}
	return time.Since(start), nil
}

// renderSuperGraph prints the composed supergraph's SDL, for
// `federated-graph`.
func renderSuperGraph(sg *schema.SuperGraph) string {
	return schema.Print(sg.APISchema())
}

// renderPlan renders a plan tree either as indented text (the shape
// dispatch.Execute itself walks) or as JSON, for `plan --json`.
func renderPlan(node *plan.Node, asJSON bool) (string, error) {
	if asJSON {
		b, err := json.MarshalIndent(node, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal plan: %w", err)
		}
		return string(b), nil
	}
	var b strings.Builder
	renderPlanText(&b, node, 0)
	return b.String(), nil
}

func renderPlanText(b *strings.Builder, node *plan.Node, depth int) {
	if node == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	switch node.Kind {
	case plan.FetchKind:
		fmt.Fprintf(b, "%s%s(%s)\n", indent, node.Kind, node.Fetch.SubGraph)
	case plan.SequenceKind, plan.ParallelKind:
		fmt.Fprintf(b, "%s%s\n", indent, node.Kind)
		for _, c := range node.Children {
			renderPlanText(b, c, depth+1)
		}
	case plan.FlattenKind:
		fmt.Fprintf(b, "%s%s(%s)\n", indent, node.Kind, strings.Join(node.Path, "."))
		renderPlanText(b, node.Child, depth+1)
	case plan.DeferKind:
		fmt.Fprintf(b, "%s%s\n", indent, node.Kind)
		renderPlanText(b, node.DeferNode.Primary, depth+1)
		for _, d := range node.DeferNode.Deferred {
			fmt.Fprintf(b, "%s  deferred(%s)\n", indent, d.Label)
			renderPlanText(b, d.Child, depth+2)
		}
	case plan.SubscriptionKind:
		fmt.Fprintf(b, "%s%s\n", indent, node.Kind)
		renderPlanText(b, node.SubscriptionNode.Primary, depth+1)
		renderPlanText(b, node.SubscriptionNode.Rest, depth+1)
	default:
		fmt.Fprintf(b, "%s%s\n", indent, node.Kind)
	}
}

// extractSupergraph writes the composed public API schema (SuperGraph
// without federation-internal fields) to destDir/supergraph.graphql, for
// `extract`.
func extractSupergraph(specs []subgraphSpec, destDir string) (string, error) {
	sg, err := buildSuperGraph(specs)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	out := filepath.Join(destDir, "supergraph.graphql")
	rendered := schema.Print(sg.APISchema())
	if err := os.WriteFile(out, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	return out, nil
}

// expandSupergraph writes one file per subgraph under destDir, optionally
// restricted to subgraphs whose name has filterPrefix, for `expand`. Each
// file is a verbatim copy of that subgraph's own SDL file as given in
// specs; a composed supergraph document is not parsed or split.
func expandSupergraph(specs []subgraphSpec, destDir, filterPrefix string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	var written []string
	for _, s := range specs {
		if filterPrefix != "" && !strings.HasPrefix(s.Name, filterPrefix) {
			continue
		}
		src, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.File, err)
		}
		out := filepath.Join(destDir, s.Name+".graphql")
		if err := os.WriteFile(out, src, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}
