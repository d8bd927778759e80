package api

import (
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// TestOpenAPIDrift fails when a route registered by Router() is missing from
// openapi.yaml or the document lists a route the router does not serve.
func TestOpenAPIDrift(t *testing.T) {
	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(openapiSpec, &doc); err != nil {
		t.Fatalf("failed to parse openapi.yaml: %v", err)
	}

	documented := make(map[string]bool)
	for path, ops := range doc.Paths {
		for op := range ops {
			op = strings.ToUpper(op)
			if strings.HasPrefix(op, "X-") || op == "PARAMETERS" {
				continue
			}
			documented[op+" "+path] = true
		}
	}

	// Router only registers handlers, so a zero API is enough to walk it.
	served := make(map[string]bool)
	err := chi.Walk((&API{}).Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		served[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk failed: %v", err)
	}

	if missing := difference(served, documented); len(missing) > 0 {
		t.Errorf("routes missing from openapi.yaml:\n  %s", strings.Join(missing, "\n  "))
	}
	if stale := difference(documented, served); len(stale) > 0 {
		t.Errorf("openapi.yaml routes not served:\n  %s", strings.Join(stale, "\n  "))
	}
}

func difference(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
