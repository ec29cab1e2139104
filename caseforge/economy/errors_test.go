package economy

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "Nil", err: nil, want: "ok"},
		{name: "Sentinel", err: ErrInsufficientFunds, want: "insufficient_funds"},
		{name: "Wrapped sentinel", err: fmt.Errorf("open case: %w", ErrCaseNotFound), want: "case_not_found"},
		{name: "Double wrapped", err: fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrPromoAlreadyUsed)), want: "promo_already_used"},
		{name: "Unknown", err: errors.New("boom"), want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("tx: %w", ErrConcurrencyConflict)) {
		t.Error("ConcurrencyConflict must be retryable")
	}
	if !Retryable(fmt.Errorf("tx: %w", ErrTransientStore)) {
		t.Error("TransientStore must be retryable")
	}
	for _, err := range []error{ErrValidation, ErrInsufficientFunds, ErrPromoExhausted, errors.New("boom")} {
		if Retryable(err) {
			t.Errorf("%v must not be retryable", err)
		}
	}
}

func TestClassifyStoreError(t *testing.T) {
	if got := ClassifyStoreError(nil); got != nil {
		t.Errorf("ClassifyStoreError(nil) = %v, want nil", got)
	}

	// Already-classified errors pass through untouched.
	classified := fmt.Errorf("update: %w", ErrInsufficientFunds)
	if got := ClassifyStoreError(classified); got != classified {
		t.Errorf("ClassifyStoreError() = %v, want pass-through", got)
	}

	// A store timeout becomes a retryable transient failure.
	timeout := fmt.Errorf("query: %w", context.DeadlineExceeded)
	if got := ClassifyStoreError(timeout); !errors.Is(got, ErrTransientStore) {
		t.Errorf("ClassifyStoreError(timeout) = %v, want ErrTransientStore", got)
	}
	if !Retryable(ClassifyStoreError(timeout)) {
		t.Error("a classified timeout must be retryable")
	}

	// Unrecognized errors stay as they are.
	plain := errors.New("boom")
	if got := ClassifyStoreError(plain); got != plain {
		t.Errorf("ClassifyStoreError(plain) = %v, want pass-through", got)
	}
}
