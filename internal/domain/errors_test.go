package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "sentinel", err: ErrOutOfStock, want: CodeOutOfStock},
		{name: "wrapped", err: fmt.Errorf("reserve: %w", ErrDropNotActive), want: CodeDropNotActive},
		{name: "joined", err: errors.Join(errors.New("ctx"), ErrAlreadyPurchased), want: CodeAlreadyPurchased},
		{name: "plain error", err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessageIsSeparateFromCode(t *testing.T) {
	if ErrOutOfStock.Error() == string(CodeOutOfStock) {
		t.Fatal("message must be human readable, not the code")
	}
	if !errors.Is(fmt.Errorf("wrap: %w", ErrOutOfStock), ErrOutOfStock) {
		t.Fatal("errors.Is must match wrapped sentinel")
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "out of stock", err: ErrOutOfStock, want: true},
		{name: "already reserved", err: ErrAlreadyReserved, want: true},
		{name: "reservation conflict", err: ErrReservationConflict, want: true},
		{name: "generic conflict", err: fmt.Errorf("tx: %w", ErrConflict), want: true},
		{name: "drop not found", err: ErrDropNotFound, want: false},
		{name: "expired", err: ErrReservationExpired, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflict(tt.err); got != tt.want {
				t.Errorf("IsConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
