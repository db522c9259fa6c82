package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidQuantity     ErrorKind = "invalid_quantity"
	KindQuantityCapExceeded ErrorKind = "quantity_cap_exceeded"
	KindInsufficientStock   ErrorKind = "insufficient_stock"
	KindMissingAddress      ErrorKind = "missing_address"
	KindMissingEmail        ErrorKind = "missing_email"
	KindInvalidEmail        ErrorKind = "invalid_email"
	KindCartEmpty           ErrorKind = "cart_empty"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindNotFound            ErrorKind = "not_found"
	KindTransientFailure    ErrorKind = "transient_failure"
)

// Error is the error type returned by the cart and checkout core. Two
// errors match under errors.Is when their kinds are equal, so callers can
// compare against the Err* sentinels below.
type Error struct {
	Kind    ErrorKind
	Message string
	// Product and Available are set on stock and quantity errors that name
	// the offending line item.
	Product   string
	Available int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity, Message: "quantity must be greater than 0"}
	ErrQuantityCapExceeded = &Error{Kind: KindQuantityCapExceeded, Message: fmt.Sprintf("maximum quantity per item is %d", MaxLineQuantity)}
	ErrInsufficientStock   = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrMissingAddress      = &Error{Kind: KindMissingAddress, Message: "shipping address is required"}
	ErrMissingEmail        = &Error{Kind: KindMissingEmail, Message: "email is required"}
	ErrInvalidEmail        = &Error{Kind: KindInvalidEmail, Message: "invalid email format"}
	ErrCartEmpty           = &Error{Kind: KindCartEmpty, Message: "cart is empty"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrNotOwner            = &Error{Kind: KindUnauthorized, Message: "cart item belongs to another owner"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrTransientFailure    = &Error{Kind: KindTransientFailure, Message: "temporary failure, please retry"}
)

func InsufficientStock(product string, available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for %s: %d available", product, available),
		Product:   product,
		Available: available,
	}
}

func InvalidQuantity(product string) *Error {
	return &Error{
		Kind:    KindInvalidQuantity,
		Message: fmt.Sprintf("invalid quantity for %s", product),
		Product: product,
	}
}

func QuantityCapExceeded(product string) *Error {
	return &Error{
		Kind:    KindQuantityCapExceeded,
		Message: fmt.Sprintf("maximum quantity per item is %d, adjust %s", MaxLineQuantity, product),
		Product: product,
	}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// KindOf returns the kind carried by err, or "" for errors outside the
// taxonomy.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ValidateQuantity checks the 1..MaxLineQuantity range.
func ValidateQuantity(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > MaxLineQuantity {
		return ErrQuantityCapExceeded
	}
	return nil
}
