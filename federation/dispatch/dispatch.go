// Package dispatch executes a federation/plan.Node tree against live
// subgraphs and merges their responses into a single GraphQL result, per
// spec.md section 4.6 (dispatch).
//
// Grounded on federation/executor/executor_v2.go's ExecutorV2.Execute
// (errgroup-parallel step execution, per-step error recording with path
// translation, partial-response-on-failure) and merger.go's Merge
// (path-based response merge), rewritten against federation/plan.Node's
// tagged-union tree instead of the teacher's flat StepV2/DependsOn list —
// a Sequence/Parallel/Flatten/Defer/Subscription tree already encodes the
// dependency order the teacher recomputed at runtime via findReadySteps.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/fedgraph/planner/federation/cache"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/schema"
)

// GraphQLError is one entry of a GraphQL response's top-level "errors"
// array (spec.md section 4.6: errors carry a response path and the
// originating subgraph).
type GraphQLError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Payload is one complete or incremental GraphQL response.
type Payload struct {
	Data   map[string]interface{} `json:"data"`
	Errors []GraphQLError          `json:"errors,omitempty"`
}

// DeferredPayload is one `@defer`d branch's incremental result, emitted
// after the primary Payload (spec.md section 8 property 7).
type DeferredPayload struct {
	Label  string
	Path   []string
	Data   interface{}
	Errors []GraphQLError
}

// Dispatcher executes plan trees against the subgraphs named in
// SuperGraph, deduplicating entity fetches through Cache when non-nil.
type Dispatcher struct {
	SuperGraph *schema.SuperGraph
	Cache      *cache.Cache
	HTTPClient *http.Client
}

func New(sg *schema.SuperGraph, c *cache.Cache, httpClient *http.Client) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Dispatcher{SuperGraph: sg, Cache: c, HTTPClient: httpClient}
}

// execState is the mutable state shared by every node in one Execute call.
type execState struct {
	mu     sync.Mutex
	data   map[string]interface{}
	errors []GraphQLError
}

func (s *execState) addError(err GraphQLError) {
	s.mu.Lock()
	s.errors = append(s.errors, err)
	s.mu.Unlock()
}

// Execute runs node (which must not be a Subscription; use Subscribe for
// those) and returns the merged payload plus, if node is a Defer node, a
// channel of deferred payloads closed once every branch has resolved.
func (d *Dispatcher) Execute(ctx context.Context, node *plan.Node, variables map[string]interface{}) (*Payload, <-chan DeferredPayload, error) {
	if node.Kind == plan.SubscriptionKind {
		return nil, nil, fmt.Errorf("dispatch: Execute does not accept a Subscription plan; use Subscribe")
	}

	state := &execState{data: make(map[string]interface{})}

	if node.Kind == plan.DeferKind {
		if err := d.run(ctx, node.DeferNode.Primary, state, variables); err != nil {
			return nil, nil, err
		}
		events := d.runDeferred(ctx, node.DeferNode.Deferred, variables)
		return &Payload{Data: state.data, Errors: state.errors}, events, nil
	}

	if err := d.run(ctx, node, state, variables); err != nil {
		return nil, nil, err
	}
	return &Payload{Data: state.data, Errors: state.errors}, nil, nil
}

func (d *Dispatcher) run(ctx context.Context, node *plan.Node, state *execState, variables map[string]interface{}) error {
	switch node.Kind {
	case plan.FetchKind:
		return d.runFetch(ctx, node.Fetch, nil, state, variables)
	case plan.SequenceKind:
		for _, child := range node.Children {
			if err := d.run(ctx, child, state, variables); err != nil {
				return err
			}
		}
		return nil
	case plan.ParallelKind:
		eg, gctx := errgroup.WithContext(ctx)
		for _, child := range node.Children {
			child := child
			eg.Go(func() error { return d.run(gctx, child, state, variables) })
		}
		return eg.Wait()
	case plan.FlattenKind:
		return d.runFlatten(ctx, node, state, variables)
	case plan.DeferKind:
		return fmt.Errorf("dispatch: nested Defer nodes are not supported")
	default:
		return fmt.Errorf("dispatch: unexpected plan node kind %v", node.Kind)
	}
}

// runFetch sends a root-level fetch and merges its response into
// state.data at the root (path is always nil for a non-Flatten fetch).
func (d *Dispatcher) runFetch(ctx context.Context, f *plan.Fetch, path []string, state *execState, variables map[string]interface{}) error {
	host, err := d.hostFor(f.SubGraph)
	if err != nil {
		state.addError(GraphQLError{
			Message:    err.Error(),
			Path:       toInterfacePath(path),
			Extensions: map[string]interface{}{"serviceName": f.SubGraph},
		})
		return nil
	}
	result, err := d.sendRequest(ctx, host, f.Document, variables)
	if err != nil {
		state.addError(GraphQLError{
			Message:    err.Error(),
			Path:       toInterfacePath(path),
			Extensions: map[string]interface{}{"serviceName": f.SubGraph},
		})
		return nil
	}

	if errs, ok := result["errors"]; ok {
		d.recordSubgraphErrors(state, f.SubGraph, path, errs)
	}

	data, _ := result["data"].(map[string]interface{})
	if data == nil {
		return nil
	}

	state.mu.Lock()
	mergeInto(state.data, data, path)
	state.mu.Unlock()
	return nil
}

// runFlatten extracts entity representations from state.data at
// node.Path, fetches the entities from node.Child.Fetch's subgraph
// (deduplicating through Cache when configured), and merges the
// response fields back into each representation's originating object.
func (d *Dispatcher) runFlatten(ctx context.Context, node *plan.Node, state *execState, variables map[string]interface{}) error {
	f := node.Child.Fetch

	state.mu.Lock()
	entities := collectEntities(state.data, node.Path)
	state.mu.Unlock()

	if len(entities) == 0 {
		return nil
	}

	entity, ok := d.SuperGraph.SubGraphEntity(f.SubGraph, f.RequiresSelectionParent)
	if !ok || len(entity.Keys) == 0 {
		return fmt.Errorf("dispatch: %s declares no usable @key for %s", f.SubGraph, f.RequiresSelectionParent)
	}
	keyFields := strings.Fields(entity.Keys[0].FieldSet)

	representations := make([]map[string]interface{}, 0, len(entities))
	for _, e := range entities {
		representations = append(representations, buildRepresentation(e, f.RequiresSelectionParent, keyFields))
	}

	entityVars := map[string]interface{}{"representations": representations}
	for k, v := range variables {
		entityVars[k] = v
	}

	result, err := d.fetchEntities(ctx, f, entityVars)
	if err != nil {
		state.addError(GraphQLError{
			Message:    err.Error(),
			Path:       toInterfacePath(node.Path),
			Extensions: map[string]interface{}{"serviceName": f.SubGraph},
		})
		return nil
	}

	if errs, ok := result["errors"]; ok {
		d.recordSubgraphErrors(state, f.SubGraph, node.Path, errs)
	}

	data, _ := result["data"].(map[string]interface{})
	entitiesData, _ := data["_entities"].([]interface{})

	state.mu.Lock()
	defer state.mu.Unlock()
	for i, e := range entities {
		if i >= len(entitiesData) {
			break
		}
		fields, ok := entitiesData[i].(map[string]interface{})
		if !ok {
			continue
		}
		for k, v := range fields {
			e[k] = v
		}
	}
	return nil
}

// fetchEntities sends the _entities request, joining an in-flight
// identical request via Cache when one is configured and the key (the
// document plus its representations) matches.
func (d *Dispatcher) fetchEntities(ctx context.Context, f *plan.Fetch, variables map[string]interface{}) (map[string]interface{}, error) {
	host, err := d.hostFor(f.SubGraph)
	if err != nil {
		return nil, err
	}

	if d.Cache == nil {
		return d.sendRequest(ctx, host, f.Document, variables)
	}

	key, keyErr := entityCacheKey(f, variables)
	if keyErr != nil {
		return d.sendRequest(ctx, host, f.Document, variables)
	}

	entry := d.Cache.Get(ctx, key)
	if !entry.IsFirst() {
		value, waitErr := entry.Get(ctx)
		if waitErr != nil {
			return d.sendRequest(ctx, host, f.Document, variables)
		}
		return value.(map[string]interface{}), nil
	}

	result, err := d.sendRequest(ctx, host, f.Document, variables)
	if err != nil {
		entry.Send(nil, err)
		return nil, err
	}
	entry.Send(result, nil)
	return result, nil
}

// hostFor resolves a plan Fetch's subgraph name to its dial address. When
// SuperGraph is nil (e.g. a unit test driving the dispatcher directly
// against an httptest server) or does not know the name, the name itself
// is used as the address.
func (d *Dispatcher) hostFor(subGraphName string) (string, error) {
	if d.SuperGraph == nil {
		return subGraphName, nil
	}
	sg, ok := d.SuperGraph.SubGraphByName(subGraphName)
	if !ok {
		return subGraphName, nil
	}
	if sg.Host == "" {
		return "", fmt.Errorf("dispatch: subgraph %q declares no host", subGraphName)
	}
	return sg.Host, nil
}

func entityCacheKey(f *plan.Fetch, variables map[string]interface{}) (string, error) {
	reps, err := json.Marshal(variables["representations"])
	if err != nil {
		return "", err
	}
	return f.SubGraph + "|" + f.Document + "|" + string(reps), nil
}

// runDeferred resolves every deferred branch concurrently, emitting each
// as it completes onto a buffered channel that is closed once all have
// finished.
func (d *Dispatcher) runDeferred(ctx context.Context, branches []plan.DeferredBranch, variables map[string]interface{}) <-chan DeferredPayload {
	out := make(chan DeferredPayload, len(branches))
	var wg sync.WaitGroup
	for _, b := range branches {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := &execState{data: make(map[string]interface{})}
			if err := d.run(ctx, b.Child, state, variables); err != nil {
				out <- DeferredPayload{Label: b.Label, Path: b.Path, Errors: []GraphQLError{{Message: err.Error()}}}
				return
			}
			out <- DeferredPayload{Label: b.Label, Path: b.Path, Data: state.data, Errors: state.errors}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (d *Dispatcher) recordSubgraphErrors(state *execState, subGraph string, path []string, raw interface{}) {
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		message, _ := m["message"].(string)
		if message == "" {
			message = "unknown error from subgraph"
		}
		errPath := toInterfacePath(path)
		if p, ok := m["path"].([]interface{}); ok {
			errPath = append(errPath, p...)
		}
		extensions := map[string]interface{}{"serviceName": subGraph}
		if ext, ok := m["extensions"].(map[string]interface{}); ok {
			for k, v := range ext {
				extensions[k] = v
			}
		}
		state.addError(GraphQLError{Message: message, Path: errPath, Extensions: extensions})
	}
}

// sendRequest sends a single GraphQL POST request to host and parses its
// JSON response, matching executor_v2.go's sendRequest.
func (d *Dispatcher) sendRequest(ctx context.Context, host, query string, variables map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		body["variables"] = variables
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", host, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", host, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", host, err)
	}
	return result, nil
}

// mergeInto merges source's fields into target at path (spec.md section
// 4.6's path-based merge), descending through arrays at any path segment.
func mergeInto(target map[string]interface{}, source map[string]interface{}, path []string) {
	if len(path) == 0 {
		for k, v := range source {
			target[k] = v
		}
		return
	}
	key := path[0]
	rest := path[1:]
	next, exists := target[key]
	if !exists {
		if len(rest) == 0 {
			target[key] = source
			return
		}
		next = make(map[string]interface{})
		target[key] = next
	}
	switch v := next.(type) {
	case map[string]interface{}:
		if len(rest) == 0 {
			for k, val := range source {
				v[k] = val
			}
			return
		}
		mergeInto(v, source, rest)
	case []interface{}:
		for _, elem := range v {
			if m, ok := elem.(map[string]interface{}); ok {
				mergeInto(m, source, rest)
			}
		}
	}
}

// collectEntities walks data along path, returning every object found at
// its end, descending into arrays at any segment (path carries no array
// markers of its own, unlike the teacher's InsertionPath).
func collectEntities(data interface{}, path []string) []map[string]interface{} {
	if len(path) == 0 {
		switch v := data.(type) {
		case map[string]interface{}:
			return []map[string]interface{}{v}
		case []interface{}:
			out := make([]map[string]interface{}, 0, len(v))
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, m)
				}
			}
			return out
		}
		return nil
	}

	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	next, exists := m[path[0]]
	if !exists || next == nil {
		return nil
	}
	if arr, ok := next.([]interface{}); ok {
		out := make([]map[string]interface{}, 0, len(arr))
		for _, item := range arr {
			out = append(out, collectEntities(item, path[1:])...)
		}
		return out
	}
	return collectEntities(next, path[1:])
}

func buildRepresentation(entity map[string]interface{}, typeName string, keyFields []string) map[string]interface{} {
	rep := map[string]interface{}{"__typename": typeName}
	for _, k := range keyFields {
		if v, ok := entity[k]; ok {
			rep[k] = v
		}
	}
	return rep
}

func toInterfacePath(path []string) []interface{} {
	if len(path) == 0 {
		return nil
	}
	out := make([]interface{}, len(path))
	for i, p := range path {
		out[i] = p
	}
	return out
}
