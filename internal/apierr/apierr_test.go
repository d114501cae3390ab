package apierr

import (
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		BadRequest:            http.StatusBadRequest,
		InsufficientReplicas:  http.StatusServiceUnavailable,
		Internal:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.Status(); got != want {
			t.Fatalf("kind %v: got %d, want %d", kind, got, want)
		}
	}
}

func TestBadRequestfFormatsMessage(t *testing.T) {
	err := BadRequestf("missing field %q", "value")
	if err.Kind != BadRequest {
		t.Fatalf("got kind %v, want BadRequest", err.Kind)
	}
	if err.Error() != `missing field "value"` {
		t.Fatalf("got message %q", err.Error())
	}
}
