package core_test

import (
	"testing"

	"github.com/otterscale/gridnode/internal/core"
)

func TestCacheKey_DefaultAndNamedNeverCollide(t *testing.T) {
	def := core.DefaultCacheKey()
	named := core.NamedCacheKey("")

	if def == named {
		t.Fatal("DefaultCacheKey() == NamedCacheKey(\"\"): the empty-name cache must not collide with the default cache")
	}
	if !def.IsDefault() {
		t.Error("DefaultCacheKey().IsDefault() = false, want true")
	}
	if named.IsDefault() {
		t.Error(`NamedCacheKey("").IsDefault() = true, want false`)
	}

	name, ok := named.Name()
	if !ok || name != "" {
		t.Errorf(`NamedCacheKey("").Name() = (%q, %v), want ("", true)`, name, ok)
	}
	if _, ok := def.Name(); ok {
		t.Error("DefaultCacheKey().Name() reported ok=true, want false")
	}
}

func TestCacheKey_String(t *testing.T) {
	if got := core.DefaultCacheKey().String(); got != "<default>" {
		t.Errorf("DefaultCacheKey().String() = %q, want %q", got, "<default>")
	}
	if got := core.NamedCacheKey("orders").String(); got != "orders" {
		t.Errorf("NamedCacheKey(orders).String() = %q, want %q", got, "orders")
	}
}
