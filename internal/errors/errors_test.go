package errors

import (
	"fmt"
	"testing"
)

func TestKeyError_Error(t *testing.T) {
	err := &KeyError{
		Code:    ErrInvalidQuery,
		Status:  400,
		Message: "query must not be empty",
	}

	expected := "INVALID_QUERY: query must not be empty"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewPermissionDenied(t *testing.T) {
	err := NewPermissionDenied("/dev/input/event3", fmt.Errorf("open: permission denied"))

	if err.Code != ErrPermissionDenied {
		t.Errorf("Code = %q, want %q", err.Code, ErrPermissionDenied)
	}
	if err.Status != 403 {
		t.Errorf("Status = %d, want 403", err.Status)
	}
	if err.Details["resource"] != "/dev/input/event3" {
		t.Errorf("Details[resource] = %v, want %q", err.Details["resource"], "/dev/input/event3")
	}
}

func TestNewHookUnavailable(t *testing.T) {
	err := NewHookUnavailable("wayland session")

	if err.Code != ErrHookUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrHookUnavailable)
	}
	if err.Details["reason"] != "wayland session" {
		t.Errorf("Details[reason] = %v, want %q", err.Details["reason"], "wayland session")
	}
}

func TestNewConfigInvalid(t *testing.T) {
	err := NewConfigInvalid("ignored_window_patterns[0]", "missing closing )")

	if err.Code != ErrConfigInvalid {
		t.Errorf("Code = %q, want %q", err.Code, ErrConfigInvalid)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["field"] != "ignored_window_patterns[0]" {
		t.Errorf("Details[field] = %v, want %q", err.Details["field"], "ignored_window_patterns[0]")
	}
}

func TestNewStorePersistent(t *testing.T) {
	err := NewStorePersistent(3, fmt.Errorf("disk I/O error"))

	if err.Code != ErrStorePersistent {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorePersistent)
	}
	if err.Details["attempts"] != 3 {
		t.Errorf("Details[attempts] = %v, want 3", err.Details["attempts"])
	}
}

func TestNewSearchUnavailable(t *testing.T) {
	err := NewSearchUnavailable(fmt.Errorf("fts: syntax error"), fmt.Errorf("embedder down"))

	if err.Code != ErrSearchUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrSearchUnavailable)
	}
	if err.Details["text"] != "fts: syntax error" {
		t.Errorf("Details[text] = %v, want %q", err.Details["text"], "fts: syntax error")
	}
	if err.Details["semantic"] != "embedder down" {
		t.Errorf("Details[semantic] = %v, want %q", err.Details["semantic"], "embedder down")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		originalErr := fmt.Errorf("database connection failed")
		err := NewInternal(originalErr)

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		// Original error should be stored in Details for logging
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		// Details should be empty but not nil
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewInvalidQuery("query must not be empty")
		if !Is(err, ErrInvalidQuery) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewInvalidQuery("query must not be empty")
		if Is(err, ErrTimeout) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-KeyError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrInvalidQuery) {
			t.Error("Is() = true, want false for non-KeyError")
		}
	})

	t.Run("wrapped KeyError", func(t *testing.T) {
		inner := NewStoreTransient(fmt.Errorf("database is locked"))
		wrapped := fmt.Errorf("flush: %w", inner)
		if !Is(wrapped, ErrStoreTransient) {
			t.Error("Is() = false, want true for wrapped KeyError")
		}
		if Is(wrapped, ErrStorePersistent) {
			t.Error("Is() = true, want false for wrong code on wrapped KeyError")
		}
	})
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config invalid", NewConfigInvalid("buffer_size", "must be positive"), 2},
		{"permission denied", NewPermissionDenied("/dev/input", nil), 3},
		{"store open", NewStoreOpen("/tmp/x.db", fmt.Errorf("file is not a database")), 4},
		{"store corrupt", NewStoreCorrupt("quick_check failed"), 4},
		{"hook unavailable", NewHookUnavailable("wayland session"), 4},
		{"plain error", fmt.Errorf("boom"), 5},
		{"wrapped", fmt.Errorf("start: %w", NewPermissionDenied("/dev/input", nil)), 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
