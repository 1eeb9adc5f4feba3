package gateway

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/fedgraph/planner/federation/cache"
	"github.com/fedgraph/planner/federation/dispatch"
	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/planner"
	"github.com/fedgraph/planner/federation/schema"
	"github.com/fedgraph/planner/gatewayconfig"
)

// executionEngine bundles all read-only components required to serve a
// GraphQL request against one composed supergraph version.
type executionEngine struct {
	superGraph *schema.SuperGraph
	queryGraph *graph.QueryGraph
	planner    *planner.Planner
	dispatcher *dispatch.Dispatcher
}

// buildEngine composes a SuperGraph from the given SDLs and host map, builds
// the query graph over it, and wires a Planner and Dispatcher against the
// result. Subgraphs are passed to schema.NewSuperGraph in lexicographic
// name order, so which subgraph FieldOwner prefers for a field several of
// them can resolve does not depend on Go's map iteration order.
func buildEngine(sdls, hosts map[string]string, cfg gatewayconfig.GatewayOption, httpClient *http.Client, c *cache.Cache) (*executionEngine, error) {
	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	sort.Strings(names)
	subGraphs := make([]*schema.SubGraph, 0, len(sdls))
	for _, name := range names {
		sg, err := schema.NewSubGraph(name, []byte(sdls[name]), hosts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := schema.NewSuperGraph(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	queryGraph, err := graph.Build(superGraph)
	if err != nil {
		return nil, fmt.Errorf("query graph construction failed: %w", err)
	}

	plannerConfig := planner.Config{
		EnableDefer:               cfg.Planner.EnableDefer,
		GenerateQueryFragments:    cfg.Planner.GenerateQueryFragments,
		TypeConditionedFetching:   cfg.Planner.TypeConditionedFetching,
		SubgraphGraphqlValidation: cfg.Planner.SubgraphGraphqlValidation,
		MaxEvaluatedPlans:         cfg.Planner.MaxEvaluatedPlans,
		PathsLimit:                cfg.Planner.PathsLimit,
	}
	if plannerConfig.MaxEvaluatedPlans == 0 && plannerConfig.PathsLimit == 0 {
		plannerConfig = planner.DefaultConfig()
	}

	return &executionEngine{
		superGraph: superGraph,
		queryGraph: queryGraph,
		planner:    planner.New(superGraph, queryGraph, plannerConfig),
		dispatcher: dispatch.New(superGraph, c, httpClient),
	}, nil
}

// copyMap returns a shallow copy of a string map, used when rebuilding the
// schemaStore so concurrent readers of the previous map are unaffected.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
