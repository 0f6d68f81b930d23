package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindStock
	KindTransport
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStock:
		return "stock"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidProduct     = errors.New("invalid product")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrLineNotFound       = errors.New("product not in cart")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// Error is returned by every public cart operation that fails.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func ValidationError(op string, err error, detail string) *Error {
	return newError(KindValidation, op, err, detail)
}

func StockError(op string, detail string) *Error {
	return newError(KindStock, op, ErrInsufficientStock, detail)
}

func TransportError(op string, err error) *Error {
	return newError(KindTransport, op, err, "")
}

func PersistenceError(op string, err error) *Error {
	return newError(KindPersistence, op, err, "")
}

// KindOf defaults to KindTransport for errors that did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Message extracts the best user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch {
		case errors.Is(e.Err, ErrInsufficientStock) && e.Detail != "":
			return fmt.Sprintf("insufficient stock for %s", e.Detail)
		case e.Kind == KindTransport:
			return e.Err.Error()
		case e.Detail != "" && !errors.Is(e.Err, ErrInvalidEmail):
			return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
		default:
			return e.Err.Error()
		}
	}
	return err.Error()
}
