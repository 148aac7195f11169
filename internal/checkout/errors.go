package checkout

import "fmt"

// Error codes returned to the storefront.
const (
	CodeEmptyCart      = "EMPTY_CART"
	CodeInvalidEmail   = "INVALID_EMAIL"
	CodeInvalidName    = "INVALID_NAME"
	CodeInvalidDOB     = "INVALID_DOB"
	CodeInvalidItem    = "INVALID_ITEM"
	CodeCheckoutFailed = "CHECKOUT_FAILED"
)

// ValidationError is a problem the buyer can fix by changing the cart.
type ValidationError struct {
	Code    string
	Message string
	Line    int // index of the offending cart line, -1 for the whole cart
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Code, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code string, line int, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Line: line, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failure of the store or the payment provider.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Code reports CHECKOUT_FAILED.
func (e *UpstreamError) Code() string { return CodeCheckoutFailed }
