// Package registry implements the schema registration endpoint subgraphs
// call to join a running gateway: POST /schema/registration with their
// name, host, and SDL. The registry recomposes the gateway's supergraph in
// place (gateway.Gateway.UpdateSchema) and fans the same registration out
// to any other gateway instances it knows about, matching the teacher's
// registry/registry.go two-role shape (own-gateway registration plus
// propagation to a registered set of peer gateway hosts) but driving the
// new federation/schema-based Gateway instead of the teacher's ad hoc
// federation.SubGraph list.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/fedgraph/planner/gateway"
)

// RegistrationGraph is one subgraph's registration payload.
type RegistrationGraph struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

// RegistrationRequest is the /schema/registration request body.
type RegistrationRequest struct {
	RegistrationGraphs []RegistrationGraph `json:"registration_graphs"`
}

// Registry owns live schema registration for one Gateway and propagates
// registrations to any peer gateway hosts registered via AddGatewayHost.
type Registry struct {
	gateway      *gateway.Gateway
	gatewayHosts atomic.Value // map[string]struct{}
	client       *http.Client
}

// New builds a Registry that registers subgraphs directly onto gw.
func New(gw *gateway.Gateway) *Registry {
	hosts := atomic.Value{}
	hosts.Store(make(map[string]struct{}))
	return &Registry{
		gateway:      gw,
		gatewayHosts: hosts,
		client:       &http.Client{},
	}
}

// AddGatewayHost registers a peer gateway host that future registrations
// should also be forwarded to.
func (r *Registry) AddGatewayHost(host string) {
	cur := r.gatewayHosts.Load().(map[string]struct{})
	next := make(map[string]struct{}, len(cur)+1)
	for h := range cur {
		next[h] = struct{}{}
	}
	next[host] = struct{}{}
	r.gatewayHosts.Store(next)
}

var _ http.Handler = (*Registry)(nil)

func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/schema/registration":
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.RegisterGateway(w, req)
	default:
		http.NotFound(w, req)
	}
}

// RegisterGateway decodes a RegistrationRequest, applies every graph to the
// local Gateway, and forwards the same request to any known peer gateways.
func (r *Registry) RegisterGateway(w http.ResponseWriter, req *http.Request) {
	var body RegistrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "Failed to decode request body", http.StatusBadRequest)
		return
	}

	for _, rg := range body.RegistrationGraphs {
		if err := r.gateway.UpdateSchema(rg.Name, rg.SDL, rg.Host); err != nil {
			http.Error(w, fmt.Sprintf("failed to register subgraph %q: %v", rg.Name, err), http.StatusBadRequest)
			return
		}
	}

	r.propagate(context.WithoutCancel(req.Context()), body)
	w.WriteHeader(http.StatusNoContent)
}

// propagate forwards body to every known peer gateway host, best effort: a
// single unreachable peer does not fail a registration that already
// succeeded against the local Gateway.
func (r *Registry) propagate(ctx context.Context, body RegistrationRequest) {
	hosts := r.gatewayHosts.Load().(map[string]struct{})
	if len(hosts) == 0 {
		return
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return
	}

	for sgHost := range hosts {
		sgHost := sgHost
		go func() {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, sgHost+"/schema/registration", bytes.NewReader(reqBody))
			if err != nil {
				return
			}
			resp, err := r.client.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
		}()
	}
}
