package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedgraph/planner/federation/cache"
	"github.com/fedgraph/planner/federation/plan"
	"github.com/fedgraph/planner/federation/schema"
)

func jsonServer(t *testing.T, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func buildFixtureSuperGraph(t *testing.T, accountsHost, reviewsHost string) *schema.SuperGraph {
	t.Helper()
	accounts, err := schema.NewSubGraph("accounts", []byte(`
		type Query { me: User! }
		type User @key(fields: "id") { id: ID! name: String! }
	`), accountsHost)
	if err != nil {
		t.Fatalf("NewSubGraph(accounts) error = %v", err)
	}
	reviews, err := schema.NewSubGraph("reviews", []byte(`
		type User @key(fields: "id") {
			id: ID! @external
			address: String!
		}
	`), reviewsHost)
	if err != nil {
		t.Fatalf("NewSubGraph(reviews) error = %v", err)
	}
	sg, err := schema.NewSuperGraph([]*schema.SubGraph{accounts, reviews})
	if err != nil {
		t.Fatalf("NewSuperGraph() error = %v", err)
	}
	return sg
}

func TestDispatcher_ExecuteSequenceWithFlatten(t *testing.T) {
	rootSrv, rootHits := jsonServer(t, `{"data":{"me":{"__typename":"User","id":"1","name":"Ada"}}}`)
	entitySrv, entityHits := jsonServer(t, `{"data":{"_entities":[{"address":"123 Main St"}]}}`)

	sg := buildFixtureSuperGraph(t, rootSrv.URL, entitySrv.URL)
	d := New(sg, nil, rootSrv.Client())

	root := plan.NewFetch(&plan.Fetch{SubGraph: "accounts", Document: "{ me { __typename id name } }"})
	flatten := plan.NewFlatten([]string{"me"}, plan.NewFetch(&plan.Fetch{
		SubGraph:                "reviews",
		Document:                `query($representations:[_Any!]!){_entities(representations:$representations){... on User{ address }}}`,
		RequiresSelectionParent: "User",
	}))
	node := plan.NewSequence(root, flatten)

	payload, deferred, err := d.Execute(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if deferred != nil {
		t.Fatalf("expected no deferred channel")
	}
	if len(payload.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", payload.Errors)
	}

	me, ok := payload.Data["me"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected payload.Data[me] to be an object, got %#v", payload.Data["me"])
	}
	if me["name"] != "Ada" {
		t.Fatalf("expected name Ada, got %v", me["name"])
	}
	if me["address"] != "123 Main St" {
		t.Fatalf("expected address merged in from the flatten fetch, got %v", me["address"])
	}
	if atomic.LoadInt32(rootHits) != 1 || atomic.LoadInt32(entityHits) != 1 {
		t.Fatalf("expected exactly one request per fetch, got root=%d entity=%d", *rootHits, *entityHits)
	}
}

func TestDispatcher_ParallelMergesIndependentFetches(t *testing.T) {
	srvA, _ := jsonServer(t, `{"data":{"a":1}}`)
	srvB, _ := jsonServer(t, `{"data":{"b":2}}`)

	d := New(nil, nil, srvA.Client())

	node := plan.NewParallel(
		plan.NewFetch(&plan.Fetch{SubGraph: srvA.URL, Document: "{ a }"}),
		plan.NewFetch(&plan.Fetch{SubGraph: srvB.URL, Document: "{ b }"}),
	)

	payload, _, err := d.Execute(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if payload.Data["a"] != float64(1) || payload.Data["b"] != float64(2) {
		t.Fatalf("expected both branches merged into root data, got %#v", payload.Data)
	}
}

func TestDispatcher_RecordsSubgraphErrorAndContinuesPartialData(t *testing.T) {
	srv, _ := jsonServer(t, `{"data":null,"errors":[{"message":"boom","path":["a"]}]}`)

	d := New(nil, nil, srv.Client())

	node := plan.NewFetch(&plan.Fetch{SubGraph: srv.URL, Document: "{ a }"})
	payload, _, err := d.Execute(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(payload.Errors) != 1 || payload.Errors[0].Message != "boom" {
		t.Fatalf("expected one recorded subgraph error, got %+v", payload.Errors)
	}
	if payload.Errors[0].Extensions["serviceName"] != srv.URL {
		t.Fatalf("expected serviceName extension set, got %+v", payload.Errors[0].Extensions)
	}
}

func TestDispatcher_DeferredBranchEmitsAfterPrimary(t *testing.T) {
	primarySrv, _ := jsonServer(t, `{"data":{"id":"1"}}`)
	deferredSrv, _ := jsonServer(t, `{"data":{"name":"slow field"}}`)

	d := New(nil, nil, primarySrv.Client())

	primary := plan.NewFetch(&plan.Fetch{SubGraph: primarySrv.URL, Document: "{ id }"})
	deferredFetch := plan.NewFetch(&plan.Fetch{SubGraph: deferredSrv.URL, Document: "{ name }"})
	node := plan.NewDefer(&plan.Defer{
		Primary: primary,
		Deferred: []plan.DeferredBranch{
			{Label: "slow", Path: nil, Child: deferredFetch},
		},
	})

	payload, deferred, err := d.Execute(context.Background(), node, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if payload.Data["id"] != "1" {
		t.Fatalf("expected primary payload to carry id, got %#v", payload.Data)
	}
	if deferred == nil {
		t.Fatalf("expected a deferred payload channel")
	}

	select {
	case dp, ok := <-deferred:
		if !ok {
			t.Fatalf("deferred channel closed without a payload")
		}
		if dp.Label != "slow" {
			t.Fatalf("expected label 'slow', got %q", dp.Label)
		}
		data, ok := dp.Data.(map[string]interface{})
		if !ok || data["name"] != "slow field" {
			t.Fatalf("expected deferred payload to carry name, got %#v", dp.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deferred payload")
	}
}

func TestDispatcher_FetchEntitiesDedupesViaCache(t *testing.T) {
	entitySrv, entityHits := jsonServer(t, `{"data":{"_entities":[{"address":"123 Main St"}]}}`)

	sg := buildFixtureSuperGraph(t, "http://unused.invalid", entitySrv.URL)
	d := New(sg, cache.New(0, nil), entitySrv.Client())

	f := &plan.Fetch{
		SubGraph:                "reviews",
		Document:                `query($representations:[_Any!]!){_entities(representations:$representations){... on User{ address }}}`,
		RequiresSelectionParent: "User",
	}
	vars := map[string]interface{}{"representations": []map[string]interface{}{{"__typename": "User", "id": "1"}}}

	if _, err := d.fetchEntities(context.Background(), f, vars); err != nil {
		t.Fatalf("fetchEntities() error = %v", err)
	}
	if _, err := d.fetchEntities(context.Background(), f, vars); err != nil {
		t.Fatalf("fetchEntities() error = %v", err)
	}

	if got := atomic.LoadInt32(entityHits); got != 1 {
		t.Fatalf("expected a single HTTP request across both identical fetches, got %d", got)
	}
	if want, err := json.Marshal(vars["representations"]); err != nil || len(want) == 0 {
		t.Fatalf("sanity check on representations marshal failed: %v", err)
	}
}
