package gatewayconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")

	want := Default()
	want.ServiceName = "reviews-gateway"
	want.Services = []Service{{Name: "accounts", Host: "http://accounts:8081", SchemaFiles: []string{"accounts.graphql"}}}

	b, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ServiceName != want.ServiceName {
		t.Fatalf("ServiceName = %q, want %q", got.ServiceName, want.ServiceName)
	}
	if len(got.Services) != 1 || got.Services[0].Name != "accounts" {
		t.Fatalf("Services = %+v", got.Services)
	}
	if got.Planner.MaxEvaluatedPlans != 10_000 {
		t.Fatalf("Planner.MaxEvaluatedPlans = %d, want 10000", got.Planner.MaxEvaluatedPlans)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestGatewayOption_Timeout(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"empty defaults to 5s", "", 5 * time.Second},
		{"invalid defaults to 5s", "not-a-duration", 5 * time.Second},
		{"parses explicit duration", "2500ms", 2500 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := GatewayOption{TimeoutDuration: tc.in}
			if got := o.Timeout(); got != tc.want {
				t.Fatalf("Timeout() = %v, want %v", got, tc.want)
			}
		})
	}
}
