package authority

import (
	"errors"
	"testing"
)

func TestClassifyStatus_DefinitiveSet(t *testing.T) {
	cases := []struct {
		status int
		kind   RejectionKind
	}{
		{400, RejectionInvalid},
		{404, RejectionNotFound},
		{409, RejectionExhausted},
		{410, RejectionRevoked},
	}
	for _, c := range cases {
		kind, ok := ClassifyStatus(c.status)
		if !ok {
			t.Fatalf("status %d: expected definitive", c.status)
		}
		if kind != c.kind {
			t.Fatalf("status %d: got kind %s want %s", c.status, kind, c.kind)
		}
	}
}

func TestClassifyStatus_TransientSet(t *testing.T) {
	for _, status := range []int{401, 403, 408, 429, 500, 502, 503, 504} {
		if _, ok := ClassifyStatus(status); ok {
			t.Fatalf("status %d: expected transient", status)
		}
	}
}

func TestUnreachableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &UnreachableError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach cause")
	}
}
