package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("exec: SQLITE_BUSY (5)"), true},
		{"locked", errors.New("database is locked"), true},
		{"other", errors.New("constraint failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsSQLiteForeignKeyError(t *testing.T) {
	if !IsSQLiteForeignKeyError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)")) {
		t.Error("expected foreign key violation to be detected")
	}
	if IsSQLiteForeignKeyError(errors.New("UNIQUE constraint failed")) || IsSQLiteForeignKeyError(nil) {
		t.Error("unexpected match")
	}
}

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, "test", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteConflictError(err) {
		t.Fatalf("expected busy error after exhausting retries, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
