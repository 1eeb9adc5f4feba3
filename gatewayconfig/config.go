// Package gatewayconfig holds the YAML-loadable settings for the gateway
// and registry binaries. It generalizes the teacher's gateway.GatewayOption
// (gateway/gateway.go) with the planner debug flags and cache settings
// spec.md section 4.5 and 4.7 require but the teacher's struct never
// carried, since the teacher had neither a cost-search planner nor a
// dedup cache to configure.
package gatewayconfig

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Service describes one subgraph the gateway composes into its supergraph.
type Service struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

// PlannerSetting mirrors the debug/feature flags of federation/planner.Config,
// named after spec.md section 4.5's field names so gateway.yaml reads the
// same vocabulary as the spec.
type PlannerSetting struct {
	MaxEvaluatedPlans         int  `yaml:"max_evaluated_plans" default:"10000"`
	PathsLimit                int  `yaml:"paths_limit" default:"1000"`
	EnableDefer               bool `yaml:"enable_defer" default:"true"`
	GenerateQueryFragments    bool `yaml:"generate_query_fragments"`
	TypeConditionedFetching   bool `yaml:"type_conditioned_fetching"`
	SubgraphGraphqlValidation bool `yaml:"subgraph_graphql_validation"`
}

// CacheSetting configures federation/cache.Cache's in-memory tier and
// optional external store (spec.md section 4.7). The external store
// itself is wired by the caller of gatewayconfig (no concrete backend
// is specified by spec.md beyond the ExternalStore interface), so this
// only carries the address a deployment would dial.
type CacheSetting struct {
	Capacity        int    `yaml:"capacity" default:"1000"`
	ExternalAddress string `yaml:"external_address"`
}

// RetryOption configures subgraph SDL introspection retries, used by
// gateway.FetchSDL.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout" default:"5s"`
}

type OpentelemetryTracingSetting struct {
	Enable   bool   `yaml:"enable" default:"false"`
	Endpoint string `yaml:"endpoint"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

// GatewayOption is the root gateway.yaml document.
type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint" default:"/graphql"`
	ServiceName                 string               `yaml:"service_name" default:"federation-gateway"`
	Port                        int                  `yaml:"port" default:"8080"`
	TimeoutDuration             string               `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []Service            `yaml:"services"`
	Planner                     PlannerSetting       `yaml:"planner"`
	Cache                       CacheSetting         `yaml:"cache"`
	Retry                       RetryOption          `yaml:"retry"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
}

// Timeout parses TimeoutDuration, defaulting to 5s on empty or invalid input.
func (o GatewayOption) Timeout() time.Duration {
	if o.TimeoutDuration == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(o.TimeoutDuration)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Default returns a GatewayOption with the struct tag defaults applied,
// for `federationctl init` to write out and for tests that don't care
// about the full YAML round trip.
func Default() GatewayOption {
	return GatewayOption{
		Endpoint:                    "/graphql",
		ServiceName:                 "federation-gateway",
		Port:                        8080,
		TimeoutDuration:             "5s",
		EnableHangOverRequestHeader: true,
		Planner: PlannerSetting{
			MaxEvaluatedPlans: 10_000,
			PathsLimit:        1_000,
			EnableDefer:       true,
		},
		Cache: CacheSetting{Capacity: 1000},
		Retry: RetryOption{Attempts: 3, Timeout: "5s"},
	}
}

// Load reads and unmarshals a GatewayOption from a YAML file at path.
func Load(path string) (*GatewayOption, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway settings file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway settings file: %w", err)
	}

	settings := Default()
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway settings: %w", err)
	}
	return &settings, nil
}

// Marshal renders a GatewayOption back to YAML, used by `federationctl init`.
func Marshal(o GatewayOption) ([]byte, error) {
	return yaml.Marshal(o)
}
