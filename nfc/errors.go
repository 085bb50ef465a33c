package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	libnfc "github.com/clausecker/nfc/v2"
)

// ErrorCode classifies an error by how the poll cycle has to react to it.
type ErrorCode int

const (
	// ErrCodeTransientIO covers timeouts, overflows and RF transmission errors.
	// The cycle is retried and presence state is left alone.
	ErrCodeTransientIO ErrorCode = iota + 100
	// ErrCodeHandleInvalid means the reader handle is unusable and must be reopened.
	ErrCodeHandleInvalid
	// ErrCodeUnsupportedModulation means the codec cannot interpret a target.
	ErrCodeUnsupportedModulation
	// ErrCodeConfiguration is reported to callers of reader enumeration and open.
	ErrCodeConfiguration
	// ErrCodeResourceExhausted means a record could not be constructed.
	ErrCodeResourceExhausted
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeTransientIO:
		return "transient-io"
	case ErrCodeHandleInvalid:
		return "handle-invalid"
	case ErrCodeUnsupportedModulation:
		return "unsupported-modulation"
	case ErrCodeConfiguration:
		return "configuration"
	case ErrCodeResourceExhausted:
		return "resource-exhausted"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Sentinel values for errors.Is comparisons. NFCError.Is matches on Code only.
var (
	ErrTransientIO           = &NFCError{Code: ErrCodeTransientIO, Message: "transient I/O error"}
	ErrHandleInvalid         = &NFCError{Code: ErrCodeHandleInvalid, Message: "reader handle invalid"}
	ErrUnsupportedModulation = &NFCError{Code: ErrCodeUnsupportedModulation, Message: "unsupported tag type"}
	ErrConfiguration         = &NFCError{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrResourceExhausted     = &NFCError{Code: ErrCodeResourceExhausted, Message: "resource exhausted"}
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Poll", "Normalize")
	Reader  string // Optional: connection string of the reader involved
	Message string
	Cause   error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Reader != "" {
		sb.WriteString("[")
		sb.WriteString(e.Reader)
		sb.WriteString("] ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewConfigurationError creates an error reported to the caller of enumeration or open.
func NewConfigurationError(op, reader, message string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeConfiguration,
		Op:      op,
		Reader:  reader,
		Message: message,
		Cause:   cause,
	}
}

// NewUnsupportedModulationError creates an error for targets the codec cannot read.
func NewUnsupportedModulationError(op string, kind Kind) *NFCError {
	return &NFCError{
		Code:    ErrCodeUnsupportedModulation,
		Op:      op,
		Message: fmt.Sprintf("unsupported tag type %s", kind),
	}
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Classify maps any error returned by the driver layer to an ErrorCode.
// Errors that are neither NFCErrors nor known libnfc codes are transient.
func Classify(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	var code libnfc.Error
	if errors.As(err, &code) {
		return classifyDriverCode(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTransientIO
	}
	// Fallback to string matching for errors that lost their type on the way up
	errStr := err.Error()
	if strings.Contains(errStr, "No Such Device") ||
		strings.Contains(errStr, "Input / Output Error") ||
		strings.Contains(errStr, "device closed") {
		return ErrCodeHandleInvalid
	}
	return ErrCodeTransientIO
}

func classifyDriverCode(code libnfc.Error) ErrorCode {
	switch code {
	case libnfc.EIO, libnfc.ENOTSUCHDEV:
		return ErrCodeHandleInvalid
	case libnfc.ESOFT:
		return ErrCodeResourceExhausted
	case libnfc.EINVARG:
		return ErrCodeConfiguration
	case libnfc.ETIMEOUT, libnfc.EOVFLOW, libnfc.ERFTRANS, libnfc.EOPABORTED,
		libnfc.ETGRELEASED, libnfc.EMFCAUTHFAIL, libnfc.ECHIP:
		return ErrCodeTransientIO
	default:
		return ErrCodeTransientIO
	}
}

// classifyPollError wraps a driver error returned by a poll call into an NFCError
// carrying its class.
func classifyPollError(op, reader string, err error) *NFCError {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr
	}
	code := Classify(err)
	return &NFCError{
		Code:    code,
		Op:      op,
		Reader:  reader,
		Message: code.String(),
		Cause:   err,
	}
}

// IsTransient checks if an error should be retried on the next cycle with no state change.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrCodeTransientIO
}

// IsHandleInvalid checks if an error means the reader handle must be reacquired.
func IsHandleInvalid(err error) bool {
	return err != nil && Classify(err) == ErrCodeHandleInvalid
}

// IsConfigurationError checks if an error came from reader enumeration or open.
func IsConfigurationError(err error) bool {
	return err != nil && Classify(err) == ErrCodeConfiguration
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}
