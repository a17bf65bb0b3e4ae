package failure

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// Kind groups failure codes into the families the pipeline reports
type Kind string

const (
	KindImage       Kind = "image"
	KindRecognition Kind = "recognition"
	KindResource    Kind = "resource"
	KindLongReceipt Kind = "long_receipt"
	KindCancelled   Kind = "cancelled"
	KindUnknown     Kind = "unknown"
)

// Code identifies one concrete failure condition
type Code string

const (
	// Image failures
	CodeNotFound          Code = "not_found"
	CodeCorrupted         Code = "corrupted"
	CodeTooLarge          Code = "too_large"
	CodeTooSmall          Code = "too_small"
	CodeUnsupportedFormat Code = "unsupported_format"
	CodePermissionDenied  Code = "permission_denied"

	// Recognition failures
	CodeTimeout            Code = "timeout"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeLowQuality         Code = "low_quality"
	CodeNoTextDetected     Code = "no_text_detected"
	CodeProcessingFailed   Code = "processing_failed"

	// Resource failures
	CodeLowMemory           Code = "low_memory"
	CodeStorageInsufficient Code = "storage_insufficient"
	CodeNetworkUnavailable  Code = "network_unavailable"

	// Long receipt failures
	CodeSectionFailed        Code = "section_failed"
	CodeMergeFailed          Code = "merge_failed"
	CodeInsufficientSections Code = "insufficient_sections"

	CodeCancelled Code = "cancelled"
	CodeUnknown   Code = "unknown"
)

var codeKinds = map[Code]Kind{
	CodeNotFound:             KindImage,
	CodeCorrupted:            KindImage,
	CodeTooLarge:             KindImage,
	CodeTooSmall:             KindImage,
	CodeUnsupportedFormat:    KindImage,
	CodePermissionDenied:     KindImage,
	CodeTimeout:              KindRecognition,
	CodeServiceUnavailable:   KindRecognition,
	CodeLowQuality:           KindRecognition,
	CodeNoTextDetected:       KindRecognition,
	CodeProcessingFailed:     KindRecognition,
	CodeLowMemory:            KindResource,
	CodeStorageInsufficient:  KindResource,
	CodeNetworkUnavailable:   KindResource,
	CodeSectionFailed:        KindLongReceipt,
	CodeMergeFailed:          KindLongReceipt,
	CodeInsufficientSections: KindLongReceipt,
	CodeCancelled:            KindCancelled,
	CodeUnknown:              KindUnknown,
}

// retryable lists the codes the Retryer will attempt again.
// TooLarge is retried because the recovery hint lets the next attempt downscale.
var retryable = map[Code]bool{
	CodeTimeout:            true,
	CodeServiceUnavailable: true,
	CodeProcessingFailed:   true,
	CodeLowMemory:          true,
	CodeNetworkUnavailable: true,
	CodeSectionFailed:      true,
	CodeTooLarge:           true,
}

// Action is a next step suggested to the user after a failure
type Action string

const (
	ActionRetry            Action = "retry"
	ActionManualEntry      Action = "manual_entry"
	ActionAlternateCapture Action = "alternate_capture"
)

// Error is the typed failure returned across the pipeline boundary
type Error struct {
	Kind     Kind
	Code     Code
	Message  string
	Err      error
	Attempts int
}

// New creates an Error for code with a message
func New(code Code, message string) *Error {
	return &Error{Kind: KindOf(code), Code: code, Message: message}
}

// Newf creates an Error for code with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error for code that wraps err
func Wrap(code Code, err error, message string) *Error {
	return &Error{Kind: KindOf(code), Code: code, Message: message, Err: err}
}

// KindOf returns the family a code belongs to
func KindOf(code Code) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindUnknown
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, failure.New(code, "")) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the Retryer should attempt the call again
func (e *Error) Retryable() bool {
	return retryable[e.Code]
}

// Suggestions returns the next actions offered to the user for this failure
func (e *Error) Suggestions() []Action {
	switch e.Code {
	case CodeTimeout, CodeServiceUnavailable, CodeNetworkUnavailable, CodeProcessingFailed, CodeLowMemory, CodeSectionFailed:
		return []Action{ActionRetry, ActionManualEntry}
	case CodeLowQuality, CodeNoTextDetected, CodeTooSmall, CodeCorrupted:
		return []Action{ActionAlternateCapture, ActionManualEntry}
	case CodeTooLarge, CodeUnsupportedFormat, CodeInsufficientSections, CodeMergeFailed:
		return []Action{ActionAlternateCapture}
	case CodeCancelled:
		return []Action{ActionRetry}
	default:
		return []Action{ActionManualEntry}
	}
}

// Classify maps any error onto the taxonomy. A nil error classifies to nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(CodeTimeout, err, "operation timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(CodeCancelled, err, "operation cancelled")
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(CodeNotFound, err, "file not found")
	case errors.Is(err, fs.ErrPermission):
		return Wrap(CodePermissionDenied, err, "permission denied")
	case errors.Is(err, syscall.ENOSPC):
		return Wrap(CodeStorageInsufficient, err, "insufficient storage")
	case errors.Is(err, syscall.ENOMEM):
		return Wrap(CodeLowMemory, err, "low memory")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(CodeTimeout, err, "network timeout")
		}
		return Wrap(CodeNetworkUnavailable, err, "network unavailable")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Wrap(CodeNetworkUnavailable, err, "network unavailable")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory"):
		return Wrap(CodeLowMemory, err, "low memory")
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "status 503"):
		return Wrap(CodeServiceUnavailable, err, "recognition service unavailable")
	}

	return Wrap(CodeUnknown, err, "unclassified failure")
}

// CodeOf returns the classified code for err, or empty for nil
func CodeOf(err error) Code {
	if fe := Classify(err); fe != nil {
		return fe.Code
	}
	return ""
}
