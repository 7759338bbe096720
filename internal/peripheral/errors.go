package peripheral

import (
	"errors"
	"fmt"
)

// Code classifies a failed peripheral operation so callers can route on
// cause rather than string-matching error text.
type Code string

const (
	CodePermissionDenied      Code = "permission_denied"
	CodeAdapterUnavailable    Code = "adapter_unavailable"
	CodeScanFailed            Code = "scan_failed"
	CodeConnectFailed         Code = "connect_failed"
	CodeServiceNotFound       Code = "service_not_found"
	CodeNotifySubscribeFailed Code = "notify_subscribe_failed"
	CodeReadFailed            Code = "read_failed"
	CodeWriteFailed           Code = "write_failed"
	CodeUnsolicitedDisconnect Code = "unsolicited_disconnect"
)

// OpError is the failure type returned by every peripheral operation.
type OpError struct {
	Code Code
	Op   string // operation that failed, e.g. "connect"
	Err  error  // underlying cause, may be nil
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peripheral: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("peripheral: %s failed (%s)", e.Op, e.Code)
}

func (e *OpError) Unwrap() error { return e.Err }

// Errf builds an OpError wrapping a formatted cause.
func Errf(code Code, op, format string, args ...interface{}) *OpError {
	return &OpError{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap builds an OpError around an existing cause.
func Wrap(code Code, op string, err error) *OpError {
	return &OpError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the failure code from err, or "" if err is not an OpError.
func CodeOf(err error) Code {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
