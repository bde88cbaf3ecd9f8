package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/models"
)

func TestClassifyStoreError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "not found",
			err:  fmt.Errorf("get order: %w", db.ErrNotFound),
			want: ErrNotFound,
		},
		{
			name: "duplicate",
			err:  fmt.Errorf("insert payment record: %w", db.ErrDuplicate),
			want: ErrConflict,
		},
		{
			name: "invalid transition",
			err:  fmt.Errorf("%w: refund from shipped", models.ErrInvalidTransition),
			want: ErrConflict,
		},
		{
			name: "already classified",
			err:  fmt.Errorf("%w: order belongs to another user", ErrForbidden),
			want: ErrForbidden,
		},
		{
			name: "anything else",
			err:  errors.New("connection reset by peer"),
			want: ErrPersistence,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifyStoreError("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyStoreError() = %v, want %v", got, tc.want)
			}
			if !errors.Is(got, tc.err) && !errors.Is(tc.err, ErrForbidden) && !errors.Is(tc.err, db.ErrNotFound) {
				t.Fatalf("classifyStoreError() lost the cause: %v", got)
			}
		})
	}

	if classifyStoreError("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	if got := err.Error(); got != "validation failed: a: first; b: second" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("ValidationError must unwrap to ErrValidation")
	}
}
