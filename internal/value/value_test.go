package value_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/n9te9/federation-gateway/internal/value"
)

func TestObjectPreservesInsertionOrder(t *testing.T) {
	obj := value.NewObject()
	obj.Set("z", value.String("last-declared-first-inserted"))
	obj.Set("a", value.Int(1))
	obj.Set("m", value.Bool(true))

	got := obj.Keys()
	want := []string{"z", "a", "m"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() order mismatch (-want +got):\n%s", diff)
	}
}

func TestObjectDeleteKeepsOrder(t *testing.T) {
	obj := value.NewObject()
	obj.Set("a", value.Int(1))
	obj.Set("b", value.Int(2))
	obj.Set("c", value.Int(3))

	obj.Delete("b")

	want := []string{"a", "c"}
	if diff := cmp.Diff(want, obj.Keys()); diff != "" {
		t.Errorf("Keys() after delete mismatch (-want +got):\n%s", diff)
	}
	if _, ok := obj.Get("b"); ok {
		t.Errorf("Get(%q) after Delete still found a value", "b")
	}
}

func TestObjectMarshalJSONPreservesOrder(t *testing.T) {
	obj := value.NewObject()
	obj.Set("name", value.String("widget"))
	obj.Set("id", value.Int(7))

	got, err := obj.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	want := `{"name":"widget","id":7}`
	if string(got) != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}
}

func TestFromAnyKinds(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind value.Kind
	}{
		{"nil", nil, value.KindNull},
		{"bool", true, value.KindBool},
		{"whole float becomes int", float64(3), value.KindInt},
		{"fractional float stays float", 3.5, value.KindFloat},
		{"string", "hi", value.KindString},
		{"list", []any{1.0, 2.0}, value.KindList},
		{"object", map[string]any{"a": 1.0}, value.KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := value.FromAny(tt.in)
			if v.Kind() != tt.kind {
				t.Errorf("FromAny(%v).Kind() = %v, want %v", tt.in, v.Kind(), tt.kind)
			}
		})
	}
}

func TestFromAnyListPreservesElementOrder(t *testing.T) {
	v := value.FromAny([]any{"x", "y", "z"})
	items := v.List()
	if len(items) != 3 {
		t.Fatalf("List() len = %d, want 3", len(items))
	}
	for i, want := range []string{"x", "y", "z"} {
		if items[i].String() != want {
			t.Errorf("List()[%d] = %q, want %q", i, items[i].String(), want)
		}
	}
}
