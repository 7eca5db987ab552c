package exchange

import (
	"context"
	"errors"
	"fmt"
)

// ErrOrderNotOpen is returned by CancelOrder when the order already filled,
// was cancelled or is unknown to the exchange.
var ErrOrderNotOpen = errors.New("order is not open")

// ErrOrderNotFound means the exchange has no order under the given id or client id.
var ErrOrderNotFound = errors.New("order not found")

// TransientError covers timeouts, rate limits and network failures.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers invalid size or price, insufficient balance, unknown symbol
// and bad credentials. Retrying will not help.
type PermanentError struct {
	Op   string
	Code int64
	Err  error
}

func (e *PermanentError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: rejected (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: rejected: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func Permanent(op string, code int64, err error) error {
	return &PermanentError{Op: op, Code: code, Err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrOrderNotOpen) || errors.Is(err, ErrOrderNotFound) {
		return true
	}
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err may succeed on retry. Unclassified errors are
// treated as transient, a cancelled parent context is not.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
