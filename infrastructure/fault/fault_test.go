package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Duplicate, "item %s already added", "ITEM-A")
	if KindOf(err) != Duplicate {
		t.Fatalf("KindOf = %v, want Duplicate", KindOf(err))
	}
	wrapped := fmt.Errorf("handler: %w", err)
	if KindOf(wrapped) != Duplicate {
		t.Fatalf("KindOf through wrap = %v, want Duplicate", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Fatalf("unclassified error should map to Internal")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ERPUnavailable, cause, "posting PO %s", "PO-100")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
	if !Is(err, ERPUnavailable) {
		t.Fatalf("expected ERPUnavailable kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Validation, http.StatusBadRequest},
		{StateConflict, http.StatusConflict},
		{Duplicate, http.StatusConflict},
		{Authorization, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Lookup, http.StatusBadGateway},
		{ERPUnavailable, http.StatusBadGateway},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(New(tc.kind, "x")); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.kind, got, tc.want)
		}
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("plain error should map to 500, got %d", got)
	}
}
