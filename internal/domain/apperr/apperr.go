// Package apperr defines the classified failures returned by the cart,
// checkout and order services.
//
// Every business failure carries a stable Kind that boundary layers map to
// transport codes. Errors without a Kind are unclassified and must not be
// shown to callers verbatim.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is a stable, machine-readable failure class.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindUnavailable
	KindBelowMinimum
	KindInsufficientStock
	KindEmptyCart
	KindConflict
)

var kindNames = [...]string{
	KindUnknown:           "unknown",
	KindNotFound:          "not_found",
	KindForbidden:         "forbidden",
	KindUnavailable:       "unavailable",
	KindBelowMinimum:      "below_minimum",
	KindInsufficientStock: "insufficient_stock",
	KindEmptyCart:         "empty_cart",
	KindConflict:          "conflict",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Retryable reports whether the whole operation may be retried by the caller.
func (k Kind) Retryable() bool {
	return k == KindConflict
}

// Resource names used in NotFound and Forbidden errors.
const (
	ResourceProduct  = "product"
	ResourceCartLine = "cart line"
	ResourceOrder    = "order"
)

// Error is a classified business failure.
type Error struct {
	Kind     Kind
	Resource string
	ID       int64

	// Requested, Available and Minimum describe quantity failures.
	Requested int
	Available int
	Minimum   int

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
	case KindForbidden:
		return fmt.Sprintf("%s %d is not accessible", e.Resource, e.ID)
	case KindUnavailable:
		return fmt.Sprintf("product %d is not available", e.ID)
	case KindBelowMinimum:
		return fmt.Sprintf("quantity %d is below the minimum order quantity %d for product %d",
			e.Requested, e.Minimum, e.ID)
	case KindInsufficientStock:
		return fmt.Sprintf("requested %d units of product %d but only %d in stock",
			e.Requested, e.ID, e.Available)
	case KindEmptyCart:
		return "cart has no available products"
	case KindConflict:
		return "concurrent update prevented commit, retry the operation"
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "operation failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing product, cart line or order.
func NotFound(resource string, id int64) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, ID: id}
}

// Forbidden reports a resource that exists but belongs to someone else.
func Forbidden(resource string, id int64) *Error {
	return &Error{Kind: KindForbidden, Resource: resource, ID: id}
}

// Unavailable reports a product whose availability flag is off.
func Unavailable(productID int64) *Error {
	return &Error{Kind: KindUnavailable, Resource: ResourceProduct, ID: productID}
}

// BelowMinimum reports a quantity under the product's minimum order quantity.
func BelowMinimum(productID int64, minimum, requested int) *Error {
	return &Error{
		Kind:      KindBelowMinimum,
		Resource:  ResourceProduct,
		ID:        productID,
		Minimum:   minimum,
		Requested: requested,
	}
}

// InsufficientStock reports a quantity larger than the stock on hand.
func InsufficientStock(productID int64, available, requested int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Resource:  ResourceProduct,
		ID:        productID,
		Available: available,
		Requested: requested,
	}
}

// EmptyCart reports a checkout with no eligible cart lines.
func EmptyCart() *Error {
	return &Error{Kind: KindEmptyCart}
}

// Conflict wraps a transient storage failure caused by concurrent writers.
func Conflict(cause error) *Error {
	return &Error{Kind: KindConflict, Err: cause}
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
