// Package planner implements the cost-directed traversal described in
// spec.md section 4.5: it turns a normalized operation into a plan tree,
// calling the condition resolver to cost cross-subgraph jumps and
// grouping sibling selections into Sequence/Parallel/Flatten nodes.
//
// Grounded on federation/executor/executor_v2.go's "teacher planner"
// sibling, federation/planner/planner_v2.go and planner_v2_optimized.go
// (root field grouping by subgraph ownership, boundary-field detection,
// key-field injection) for the overall shape of "walk a selection set,
// split it at subgraph boundaries, inject key fields" — rewritten from
// scratch against federation/graph.QueryGraph and federation/operation's
// normalized model instead of the teacher's own ad hoc AST walking types.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fedgraph/planner/federation/condition"
	"github.com/fedgraph/planner/federation/graph"
	"github.com/fedgraph/planner/federation/operation"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/schema"
)

// Config holds the planner configuration flags from spec.md section 4.5.
type Config struct {
	EnableDefer             bool
	GenerateQueryFragments  bool
	TypeConditionedFetching bool
	SubgraphGraphqlValidation bool
	MaxEvaluatedPlans       int
	PathsLimit              int
}

// DefaultConfig matches the teacher's GatewayOption defaults style: defer
// enabled, debug ceilings generous but finite.
func DefaultConfig() Config {
	return Config{
		EnableDefer:       true,
		MaxEvaluatedPlans: 10_000,
		PathsLimit:        1_000,
	}
}

// UnsupportedFeature is a planning failure for a feature the operation
// uses that the planner (or its configuration) does not support.
type UnsupportedFeature struct{ Reason string }

func (e *UnsupportedFeature) Error() string { return fmt.Sprintf("unsupported feature: %s", e.Reason) }

// CannotSatisfyRequirement is a planning failure: no set of query graph
// edges satisfies some field's cross-subgraph requirement.
type CannotSatisfyRequirement struct{ TypeName string }

func (e *CannotSatisfyRequirement) Error() string {
	return fmt.Sprintf("cannot satisfy requirement for type %q: no subgraph declares a usable @key", e.TypeName)
}

// Internal signals a bug in the planner rather than a property of the
// operation or schema.
type Internal struct{ Message string }

func (e *Internal) Error() string { return fmt.Sprintf("internal planner error: %s", e.Message) }

// Warning is a non-fatal planning signal, e.g. PlanSearchTruncated.
type Warning struct{ Message string }

// Planner plans operations against one supergraph version. It is safe for
// concurrent use: the query graph and schema are read-only, and a fresh
// condition.Resolver is created per Plan call (spec.md section 5: the
// condition resolver's memo is per-traversal).
type Planner struct {
	SuperGraph *schema.SuperGraph
	QueryGraph *graph.QueryGraph
	Config     Config
}

func New(sg *schema.SuperGraph, qg *graph.QueryGraph, cfg Config) *Planner {
	return &Planner{SuperGraph: sg, QueryGraph: qg, Config: cfg}
}

// jump is a discovered cross-subgraph hop: the selections at
// response-path path must be gathered from ownerSubGraph via an entity
// fetch, instead of the subgraph whose fetch is currently being built.
type jump struct {
	path          []string
	ownerSubGraph string
	typeName      string
	selections    []*operation.Selection
}

type deferBranch struct {
	label string
	path  []string
	jump  jump
}

type traversal struct {
	p         *Planner
	resolver  *condition.Resolver
	warnings  []Warning
	evaluated int
	isSub     bool
}

// Plan produces a plan tree for op (spec.md section 4.5). Each field is
// fetched from the subgraph schema.SuperGraph.FieldOwner prefers;
// alternative plans are not enumerated or compared by cost.
func (p *Planner) Plan(op *operation.Operation) (*plan.Node, []Warning, error) {
	t := &traversal{p: p, resolver: condition.NewResolver(p.SuperGraph), isSub: op.Kind == graph.Subscription}

	rootType := rootTypeName(op.Kind)
	if !p.SuperGraph.HasType(rootType) {
		return nil, nil, &Internal{Message: fmt.Sprintf("supergraph declares no root type %q", rootType)}
	}

	if op.Kind == graph.Subscription && len(op.Selections) != 1 {
		return nil, nil, &UnsupportedFeature{Reason: "subscription operations must select exactly one root field"}
	}

	groups, order, err := t.groupByOwner(rootType, op.Selections)
	if err != nil {
		return nil, nil, err
	}

	var rootNodes []*plan.Node
	var jumps []jump
	var deferred []deferBranch

	for _, subGraph := range order {
		fieldParts, subJumps, subDeferred, err := t.buildGroupFields(subGraph, rootType, groups[subGraph])
		if err != nil {
			return nil, nil, err
		}
		doc := wrapOperationDoc(op.Kind, fieldParts)
		rootNodes = append(rootNodes, plan.NewFetch(&plan.Fetch{SubGraph: subGraph, Document: doc}))
		jumps = append(jumps, subJumps...)
		deferred = append(deferred, subDeferred...)
	}

	flattenNodes, moreDeferred, err := t.resolveJumps(jumps)
	if err != nil {
		return nil, nil, err
	}
	deferred = append(deferred, moreDeferred...)

	if t.isSub && len(deferred) > 0 {
		return nil, nil, &UnsupportedFeature{Reason: "@defer is not supported inside a subscription"}
	}

	var root *plan.Node
	if t.isSub {
		if len(rootNodes) != 1 {
			return nil, nil, &Internal{Message: "subscription produced more than one primary fetch"}
		}
		primary := rootNodes[0]
		var rest *plan.Node
		if len(flattenNodes) > 0 {
			rest = plan.NewSequence(flattenNodes...)
		}
		root = plan.NewSubscription(&plan.Subscription{Primary: primary, Rest: rest})
		return root, t.warnings, nil
	}

	root = combine(rootNodes)
	if len(flattenNodes) > 0 {
		root = plan.NewSequence(append([]*plan.Node{root}, flattenNodes...)...)
	}

	if len(deferred) > 0 {
		root, err = t.splitDefer(root, deferred)
		if err != nil {
			return nil, nil, err
		}
	}

	return root, t.warnings, nil
}

func combine(nodes []*plan.Node) *plan.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return plan.NewParallel(nodes...)
}

func rootTypeName(kind graph.OperationKind) string {
	switch kind {
	case graph.Mutation:
		return "Mutation"
	case graph.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}

// groupByOwner partitions selections by the subgraph that owns each
// field on typeName, in lexicographic subgraph-name order for
// determinism (spec.md section 4.5's cost-function tie-break rule).
func (t *traversal) groupByOwner(typeName string, selections []*operation.Selection) (map[string][]*operation.Selection, []string, error) {
	groups := make(map[string][]*operation.Selection)
	for _, sel := range selections {
		if sel.Name == "__typename" {
			continue
		}
		owner := t.p.SuperGraph.FieldOwner(typeName, sel.Name)
		if owner == nil {
			return nil, nil, &Internal{Message: fmt.Sprintf("no subgraph owns %s.%s", typeName, sel.Name)}
		}
		groups[owner.Name] = append(groups[owner.Name], sel)
	}
	order := make([]string, 0, len(groups))
	for name := range groups {
		order = append(order, name)
	}
	sort.Strings(order)
	return groups, order, nil
}

// buildGroupFields renders each of selections (all owned by subGraph, as
// root-level fields of typeName) as "name { ... }" text, collecting any
// jumps and deferred branches discovered in their subtrees.
func (t *traversal) buildGroupFields(subGraph, typeName string, selections []*operation.Selection) ([]string, []jump, []deferBranch, error) {
	var parts []string
	var jumps []jump
	var deferred []deferBranch
	for _, sel := range selections {
		childType, err := t.p.SuperGraph.FieldTypeName(typeName, sel.Name)
		if err != nil {
			return nil, nil, nil, &Internal{Message: err.Error()}
		}
		inner, subJumps, subDeferred, err := t.buildFetch(subGraph, childType, sel.Selections, []string{sel.ResponseKey()})
		if err != nil {
			return nil, nil, nil, err
		}
		parts = append(parts, renderField(sel, inner))
		jumps = append(jumps, subJumps...)
		deferred = append(deferred, subDeferred...)
	}
	return parts, jumps, deferred, nil
}

// buildFetch renders selections (all fields of typeName reached while
// staying inside subGraph) into a selection-set body, recursing into
// nested object fields and collecting cross-subgraph jumps and deferred
// branches discovered along the way. path is the response path to this
// selection set's parent, used to anchor any jumps/defers found here.
func (t *traversal) buildFetch(subGraph, typeName string, selections []*operation.Selection, path []string) (string, []jump, []deferBranch, error) {
	if len(selections) == 0 {
		return "", nil, nil, nil
	}

	var immediate, deferredSel []*operation.Selection
	for _, sel := range selections {
		if sel.Defer != nil {
			deferredSel = append(deferredSel, sel)
		} else {
			immediate = append(immediate, sel)
		}
	}

	if len(deferredSel) > 0 && t.isSub {
		return "", nil, nil, &UnsupportedFeature{Reason: "@defer is not supported inside a subscription"}
	}
	if len(deferredSel) > 0 && !t.p.Config.EnableDefer {
		return "", nil, nil, &UnsupportedFeature{Reason: "@defer used but incremental_delivery.enable_defer is false"}
	}

	var deferred []deferBranch
	if len(deferredSel) > 0 {
		groups, order, err := t.groupByOwner(typeName, deferredSel)
		if err != nil {
			return "", nil, nil, err
		}
		for _, owner := range order {
			j, err := t.makeJump(subGraph, owner, typeName, groups[owner], path)
			if err != nil {
				return "", nil, nil, err
			}
			deferred = append(deferred, deferBranch{label: deferredSel[0].Defer.Label, path: path, jump: j})
		}
	}

	entity, ok := t.p.SuperGraph.SubGraphEntity(subGraph, typeName)
	if !ok {
		return "", nil, nil, &Internal{Message: fmt.Sprintf("subgraph %q does not declare type %q", subGraph, typeName)}
	}

	var local []*operation.Selection
	remoteGroups := make(map[string][]*operation.Selection)
	var remoteOrder []string
	for _, sel := range immediate {
		if sel.Name == "__typename" {
			local = append(local, sel)
			continue
		}
		field, hasField := entity.Fields[sel.Name]
		if hasField && !field.External {
			local = append(local, sel)
			continue
		}
		owner := t.p.SuperGraph.FieldOwner(typeName, sel.Name)
		if owner == nil {
			return "", nil, nil, &Internal{Message: fmt.Sprintf("no subgraph owns %s.%s", typeName, sel.Name)}
		}
		if _, seen := remoteGroups[owner.Name]; !seen {
			remoteOrder = append(remoteOrder, owner.Name)
		}
		remoteGroups[owner.Name] = append(remoteGroups[owner.Name], sel)
	}
	sort.Strings(remoteOrder)

	var jumps []jump
	for _, owner := range remoteOrder {
		j, err := t.makeJump(subGraph, owner, typeName, remoteGroups[owner], path)
		if err != nil {
			return "", nil, nil, err
		}
		jumps = append(jumps, j)
	}

	var fieldParts []string
	for _, sel := range local {
		if sel.Name == "__typename" {
			fieldParts = append(fieldParts, "__typename")
			continue
		}
		childType, err := t.p.SuperGraph.FieldTypeName(typeName, sel.Name)
		if err != nil {
			return "", nil, nil, &Internal{Message: err.Error()}
		}
		inner, subJumps, subDeferred, err := t.buildFetch(subGraph, childType, sel.Selections, append(append([]string{}, path...), sel.ResponseKey()))
		if err != nil {
			return "", nil, nil, err
		}
		fieldParts = append(fieldParts, renderField(sel, inner))
		jumps = append(jumps, subJumps...)
		deferred = append(deferred, subDeferred...)
	}

	needsKey := len(remoteOrder) > 0 || len(deferredSel) > 0
	if needsKey {
		fieldParts = injectKeyFields(entity, fieldParts)
	}

	return strings.Join(fieldParts, " "), jumps, deferred, nil
}

// makeJump validates that fromSubGraph can reach typeName in toSubGraph
// via a resolvable @key edge in the query graph (spec.md section 8
// scenario S6: CannotSatisfyRequirement when neither subgraph declares
// one), and returns the jump describing the entity fetch needed.
func (t *traversal) makeJump(fromSubGraph, toSubGraph, typeName string, selections []*operation.Selection, path []string) (jump, error) {
	from := graph.VertexID{SubGraph: fromSubGraph, TypeName: typeName}
	v, ok := t.p.QueryGraph.Vertices[from]
	if !ok {
		return jump{}, &CannotSatisfyRequirement{TypeName: typeName}
	}
	var keyEdge *graph.Edge
	for _, e := range v.Out {
		if e.Kind == graph.KeyEdgeKind && e.To.SubGraph == toSubGraph {
			keyEdge = e
			break
		}
	}
	if keyEdge == nil {
		return jump{}, &CannotSatisfyRequirement{TypeName: typeName}
	}
	res := t.resolver.Resolve(keyEdge, nil, nil, nil, "")
	if !res.IsSatisfied() {
		return jump{}, &CannotSatisfyRequirement{TypeName: typeName}
	}
	return jump{path: append([]string{}, path...), ownerSubGraph: toSubGraph, typeName: typeName, selections: selections}, nil
}

// resolveJumps turns each discovered jump into a Flatten(path,
// Fetch(_entities)) node, processing breadth-first so that a nested jump
// discovered while building a jump's own fetch is appended after its
// parent (preserving the Sequence dependency order).
func (t *traversal) resolveJumps(queue []jump) ([]*plan.Node, []deferBranch, error) {
	var nodes []*plan.Node
	var deferred []deferBranch
	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		t.evaluated++
		if t.p.Config.MaxEvaluatedPlans > 0 && t.evaluated > t.p.Config.MaxEvaluatedPlans {
			t.warnings = append(t.warnings, Warning{Message: "PlanSearchTruncated"})
			break
		}

		inner, nestedJumps, nestedDeferred, err := t.buildFetch(j.ownerSubGraph, j.typeName, j.selections, nil)
		if err != nil {
			return nil, nil, err
		}
		doc := wrapEntitiesDoc(j.typeName, inner)
		fetch := plan.NewFetch(&plan.Fetch{SubGraph: j.ownerSubGraph, Document: doc, RequiresSelectionParent: j.typeName})
		nodes = append(nodes, plan.NewFlatten(j.path, fetch))
		queue = append(queue, nestedJumps...)
		deferred = append(deferred, nestedDeferred...)
	}
	return nodes, deferred, nil
}

// splitDefer wraps primary into a Defer node, materializing each deferred
// branch as its own Flatten(_entities) fetch (spec.md section 4.5 step 5,
// section 8 property 7).
func (t *traversal) splitDefer(primary *plan.Node, branches []deferBranch) (*plan.Node, error) {
	d := &plan.Defer{Primary: primary}
	for _, b := range branches {
		inner, nestedJumps, _, err := t.buildFetch(b.jump.ownerSubGraph, b.jump.typeName, b.jump.selections, nil)
		if err != nil {
			return nil, err
		}
		doc := wrapEntitiesDoc(b.jump.typeName, inner)
		fetch := plan.NewFetch(&plan.Fetch{SubGraph: b.jump.ownerSubGraph, Document: doc, RequiresSelectionParent: b.jump.typeName})
		child := plan.NewFlatten(b.path, fetch)
		if len(nestedJumps) > 0 {
			more, _, err := t.resolveJumps(nestedJumps)
			if err != nil {
				return nil, err
			}
			child = plan.NewSequence(append([]*plan.Node{child}, more...)...)
		}
		d.Deferred = append(d.Deferred, plan.DeferredBranch{Label: b.label, Path: b.path, Child: child})
	}
	return plan.NewDefer(d), nil
}

// injectKeyFields prepends __typename and any key fields not already
// present among fields, so a later Flatten can build its representations
// input (spec.md section 8 scenario S1's "{ me { __typename id name } }").
func injectKeyFields(entity *schema.Entity, fields []string) []string {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[firstToken(f)] = true
	}
	var prefix []string
	if !present["__typename"] {
		prefix = append(prefix, "__typename")
		present["__typename"] = true
	}
	if len(entity.Keys) > 0 {
		for _, kf := range strings.Fields(entity.Keys[0].FieldSet) {
			if !present[kf] {
				prefix = append(prefix, kf)
				present[kf] = true
			}
		}
	}
	return append(prefix, fields...)
}

func firstToken(field string) string {
	if idx := strings.IndexAny(field, " {"); idx >= 0 {
		return field[:idx]
	}
	return field
}

func renderField(sel *operation.Selection, inner string) string {
	name := sel.Name
	text := name
	if sel.Alias != "" && sel.Alias != sel.Name {
		text = sel.Alias + ": " + name
	}
	if inner != "" {
		text += " { " + inner + " }"
	}
	return text
}

func wrapOperationDoc(kind graph.OperationKind, fieldParts []string) string {
	keyword := ""
	switch kind {
	case graph.Mutation:
		keyword = "mutation"
	case graph.Subscription:
		keyword = "subscription"
	}
	return keyword + "{ " + strings.Join(fieldParts, " ") + " }"
}

func wrapEntitiesDoc(typeName, inner string) string {
	return "query($representations:[_Any!]!){_entities(representations:$representations){... on " +
		typeName + "{ " + inner + " }}}"
}
