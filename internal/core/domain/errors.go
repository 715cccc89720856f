package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrLineNotFound         = errors.New("cart line not found")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrCommitFailed         = errors.New("commit failed")
	ErrDuplicateCommit      = errors.New("duplicate commit")
	ErrInvalidProduct       = errors.New("invalid product")
)

// InsufficientStockError reports a line that asks for more than is available.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// CommitFailedError wraps a storage fault that aborted a commit.
// Nothing of the attempt was persisted.
type CommitFailedError struct {
	Cause error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit failed: %v", e.Cause)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Cause
}

func (e *CommitFailedError) Is(target error) bool {
	return target == ErrCommitFailed
}

// DuplicateCommitError is returned when an idempotency token was already used.
// SaleID is empty while the first attempt is still in flight.
type DuplicateCommitError struct {
	Token  string
	SaleID string
}

func (e *DuplicateCommitError) Error() string {
	if e.SaleID == "" {
		return fmt.Sprintf("duplicate commit for token %q", e.Token)
	}
	return fmt.Sprintf("duplicate commit for token %q: already recorded as sale %s", e.Token, e.SaleID)
}

func (e *DuplicateCommitError) Is(target error) bool {
	return target == ErrDuplicateCommit
}

// ProductNotFound builds the error returned for a missing or inactive product.
func ProductNotFound(id ProductID) error {
	return fmt.Errorf("%w: %d", ErrProductNotFound, id)
}
