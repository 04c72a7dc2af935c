package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(KindNotFound, "SRC_BRANCH: no branch for %s", "123")
	wrapped := fmt.Errorf("outer: %w", base)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("expected not-found through wrapping, got %v", KindOf(wrapped))
	}
	if !IsNotFound(wrapped) {
		t.Fatalf("IsNotFound failed on wrapped error")
	}
}

func TestWrapNilPassesThrough(t *testing.T) {
	if Wrap(KindIOFailure, nil, "ignored") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{New(KindNotFound, "miss"), true},
		{New(KindRateLimited, "quota"), true},
		{New(KindMalformed, "bad bytes"), true},
		{New(KindIOFailure, "disk"), false},
		{New(KindConfigSectionMissing, "no root"), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := Recoverable(tc.err); got != tc.want {
			t.Fatalf("Recoverable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindIOFailure, cause, "INS_WRITE: manifest copy")
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost through Wrap")
	}
}
