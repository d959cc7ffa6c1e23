package bas

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the Batch Activation Service in the ErrorCode element.
const (
	CodeMAKLimitExceeded    = "0x7F"
	CodeKeyBlocked          = "0x67"
	CodeInvalidProductKey   = "0x68"
	CodeInvalidKeyType      = "0x86"
	CodeInvalidInstallation = "0x90"
)

var businessMessages = map[string]string{
	CodeMAKLimitExceeded:    "The Multiple Activation Key has exceeded its limit.",
	CodeKeyBlocked:          "The product key has been blocked.",
	CodeInvalidProductKey:   "Invalid product key.",
	CodeInvalidKeyType:      "Invalid key type.",
	CodeInvalidInstallation: "Please check the Installation ID and try again.",
}

// BusinessError is an explicit rejection by the activation service.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("activation service error %s: %s", e.Code, e.Message)
}

func newBusinessError(code string) *BusinessError {
	if msg, ok := businessMessages[code]; ok {
		return &BusinessError{Code: code, Message: msg}
	}
	return &BusinessError{Code: code, Message: code}
}

// ProtocolError means a response arrived but could not be understood.
// Stage is "outer" for the SOAP envelope and "inner" for the embedded
// activation response document.
type ProtocolError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("unexpected activation service response (%s): %s", e.Stage, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError covers failures reaching the service: network errors,
// timeouts, non-success HTTP statuses and an open circuit breaker.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("activation service request failed with HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("activation service request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient reports whether the failure may clear on its own: network errors,
// timeouts, 408, 429 and 5xx responses.
func (e *TransportError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= 500
	}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// isTransient reports whether err is a TransportError worth retrying.
func isTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient()
}

// outcome labels an error for metrics.
func outcome(err error) string {
	var (
		be *BusinessError
		pe *ProtocolError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &be):
		return "business_error"
	case errors.As(err, &pe):
		return "protocol_error"
	default:
		return "transport_error"
	}
}
