package mcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		InvalidKey:        400,
		InvalidValue:      400,
		InvalidAttributes: 400,
		Unauthenticated:   401,
		Unauthorized:      403,
		NotFound:          404,
		Conflict:          409,
		Transient:         500,
		Fatal:             500,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestIsMatchesWrappedKind(t *testing.T) {
	base := New(NotFound, "missing")
	wrapped := fmt.Errorf("context: %w", base)
	if !Is(wrapped, NotFound) {
		t.Fatalf("expected Is to see through wrapping")
	}
	if Is(wrapped, Conflict) {
		t.Fatalf("expected Is to reject the wrong kind")
	}
}

func TestOfDefaultsToFatal(t *testing.T) {
	if Of(errors.New("plain")) != Fatal {
		t.Fatalf("expected Of to default untagged errors to Fatal")
	}
	if Of(New(Conflict, "x")) != Conflict {
		t.Fatalf("expected Of to extract the tagged kind")
	}
}

func TestWrapPreservesCauseInErrorString(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(Transient, "retry later", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Wrap's Unwrap chain to reach cause")
	}
}
