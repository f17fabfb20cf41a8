package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// stubProvider serves a fixed capability set with a scripted handler.
type stubProvider struct {
	name    string
	caps    []Descriptor
	handler func(ctx context.Context, name string, args map[string]interface{}) Result
}

func (p *stubProvider) ProviderName() string                { return p.name }
func (p *stubProvider) Initialize(context.Context) error    { return nil }
func (p *stubProvider) ListCapabilities() []Descriptor      { return p.caps }
func (p *stubProvider) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	if p.handler != nil {
		return p.handler(ctx, name, args)
	}
	return OK(nil)
}

func descriptors(names ...string) []Descriptor {
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, Descriptor{Name: n, Description: "test capability"})
	}
	return out
}

func TestRegisterAndResolve(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	provider := &stubProvider{name: "stub", caps: descriptors("alpha", "beta")}

	if err := registry.Register(provider); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resolved, err := registry.Resolve("alpha")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.ProviderName() != "stub" {
		t.Errorf("Resolved wrong provider: %s", resolved.ProviderName())
	}

	if _, err := registry.Resolve("missing"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("Expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestRegisterDuplicateIsAtomic(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	first := &stubProvider{name: "first", caps: descriptors("shared")}
	second := &stubProvider{name: "second", caps: descriptors("unique", "shared")}

	if err := registry.Register(first); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}

	err := registry.Register(second)
	if !errors.Is(err, ErrDuplicateCapability) {
		t.Fatalf("Expected ErrDuplicateCapability, got %v", err)
	}

	// The conflicting provider must contribute nothing, not even its
	// non-conflicting capabilities.
	if _, err := registry.Resolve("unique"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Error("Partial registration leaked through a rejected provider")
	}
	// The first writer keeps the name.
	resolved, err := registry.Resolve("shared")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.ProviderName() != "first" {
		t.Errorf("First writer lost the name to %s", resolved.ProviderName())
	}
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	provider := &stubProvider{name: "stub", caps: descriptors("alpha")}
	if err := registry.Register(provider); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	registry.Unregister("stub")
	if _, err := registry.Resolve("alpha"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Error("Capability survived Unregister")
	}
}

func TestExecuteUnknownCapability(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	result := registry.Execute(context.Background(), "nope", nil)
	if result.Success {
		t.Error("Expected failed result for unknown capability")
	}
	if !strings.Contains(result.ErrorMessage, "unknown capability") {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
}

func TestExecutePanicBecomesFailedResult(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	provider := &stubProvider{
		name: "panicky",
		caps: descriptors("explode"),
		handler: func(context.Context, string, map[string]interface{}) Result {
			panic("boom")
		},
	}
	if err := registry.Register(provider); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result := registry.Execute(context.Background(), "explode", nil)
	if result.Success {
		t.Error("Expected failed result from a panicking capability")
	}
	if !strings.Contains(result.ErrorMessage, "panicked") {
		t.Errorf("Unexpected error message: %q", result.ErrorMessage)
	}
}

func TestDescribeAllSorted(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	if err := registry.Register(&stubProvider{name: "one", caps: descriptors("zeta", "alpha")}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(&stubProvider{name: "two", caps: descriptors("mike")}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	all := registry.DescribeAll()
	if len(all) != 3 {
		t.Fatalf("Expected 3 descriptors, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name > all[i].Name {
			t.Errorf("DescribeAll not sorted: %s before %s", all[i-1].Name, all[i].Name)
		}
	}

	specs := registry.Specs()
	if len(specs) != 3 || specs[0].Name != "alpha" {
		t.Errorf("Specs not in sorted order: %+v", specs)
	}
}

func TestOnChangeFires(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	fired := 0
	registry.OnChange(func() { fired++ })

	if err := registry.Register(&stubProvider{name: "stub", caps: descriptors("alpha")}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	registry.Unregister("stub")
	// Unregistering an absent provider must not notify.
	registry.Unregister("stub")

	if fired != 2 {
		t.Errorf("Expected 2 change notifications, got %d", fired)
	}
}

func TestDescriptorSpec(t *testing.T) {
	d := Descriptor{
		Name:        "get_weather",
		Description: "Current weather",
		Parameters: []Parameter{
			{Name: "city", Type: "string", Description: "City name", Required: true},
			{Name: "days", Type: "integer", Default: 1},
		},
	}

	spec := d.Spec()
	if spec.Name != "get_weather" || spec.Schema.Type != "object" {
		t.Errorf("Unexpected spec shape: %+v", spec)
	}
	if len(spec.Schema.Required) != 1 || spec.Schema.Required[0] != "city" {
		t.Errorf("Unexpected required list: %v", spec.Schema.Required)
	}
	days, ok := spec.Schema.Properties["days"].(map[string]interface{})
	if !ok || days["type"] != "integer" || days["default"] != 1 {
		t.Errorf("Unexpected days property: %v", spec.Schema.Properties["days"])
	}
}

func TestResultToJSON(t *testing.T) {
	ok := OK(map[string]interface{}{"answer": 42})
	if !strings.Contains(ok.ToJSON(), `"success":true`) {
		t.Errorf("Unexpected success serialization: %s", ok.ToJSON())
	}

	fail := Fail("it broke")
	serialized := fail.ToJSON()
	if !strings.Contains(serialized, `"success":false`) || !strings.Contains(serialized, "it broke") {
		t.Errorf("Unexpected failure serialization: %s", serialized)
	}

	// Unmarshalable data degrades to a serialization failure, still valid JSON.
	bad := OK(map[string]interface{}{"fn": func() {}})
	if !strings.Contains(bad.ToJSON(), "failed to serialize") {
		t.Errorf("Expected serialization fallback, got %s", bad.ToJSON())
	}
}
