package apperr_test

import (
	"testing"

	"github.com/n9te9/federation-gateway/internal/apperr"
)

func TestNewFormatsMessage(t *testing.T) {
	err := apperr.New(apperr.SubgraphError, "subgraph %q returned %d", "products", 500)
	if err.Kind != apperr.SubgraphError {
		t.Errorf("Kind = %v, want %v", err.Kind, apperr.SubgraphError)
	}
	want := `subgraph "products" returned 500`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWithPathDoesNotMutateOriginal(t *testing.T) {
	orig := apperr.New(apperr.MergeConflict, "conflict")
	withPath := orig.WithPath([]any{"product", "reviews", 0})

	if orig.Path != nil {
		t.Errorf("original Path mutated: %v", orig.Path)
	}
	if len(withPath.Path) != 3 {
		t.Errorf("WithPath() Path len = %d, want 3", len(withPath.Path))
	}
}

func TestWithExtensionDoesNotMutateOriginal(t *testing.T) {
	orig := apperr.New(apperr.InternalError, "boom")
	withExt := orig.WithExtension("code", "BOOM")

	if orig.Extensions != nil {
		t.Errorf("original Extensions mutated: %v", orig.Extensions)
	}
	if withExt.Extensions["code"] != "BOOM" {
		t.Errorf("WithExtension() Extensions[code] = %v, want BOOM", withExt.Extensions["code"])
	}

	// Chaining must not let the second extension leak into the first.
	withTwo := withExt.WithExtension("retryable", true)
	if _, ok := withExt.Extensions["retryable"]; ok {
		t.Errorf("WithExtension() mutated a prior clone's Extensions map")
	}
	if withTwo.Extensions["code"] != "BOOM" || withTwo.Extensions["retryable"] != true {
		t.Errorf("WithExtension() chain lost a key: %v", withTwo.Extensions)
	}
}

func TestNotReadyErrorKind(t *testing.T) {
	err := apperr.NotReadyError()
	if err.Kind != apperr.NotReady {
		t.Errorf("Kind = %v, want %v", err.Kind, apperr.NotReady)
	}
}
