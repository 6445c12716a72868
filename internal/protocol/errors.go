package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/viant/jsonrpc"
)

// Kind classifies every failure a caller can observe.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindMethodNotFound
	KindInvalidParams
	KindUnknownTool
	KindMissingCredentials
	KindBackendUnavailable
	KindBackendTimeout
	KindBackendTerminated
	KindAuthFailure
	KindInternal
)

// CodeAuthFailure is the gateway-defined code for pre-shared-key mismatch.
const CodeAuthFailure = -32001

// Code returns the JSON-RPC error code for the kind.
func (k Kind) Code() int {
	switch k {
	case KindInvalidRequest:
		return jsonrpc.InvalidRequest
	case KindMethodNotFound:
		return jsonrpc.MethodNotFound
	case KindInvalidParams:
		return jsonrpc.InvalidParams
	case KindAuthFailure:
		return CodeAuthFailure
	default:
		// UnknownTool, MissingCredentials, backend failures and defects all
		// surface as internal errors with a distinguishing message.
		return jsonrpc.InternalError
	}
}

// String names the kind for logs and error text.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindInvalidParams:
		return "InvalidParams"
	case KindUnknownTool:
		return "UnknownTool"
	case KindMissingCredentials:
		return "MissingCredentials"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindBackendTimeout:
		return "BackendTimeout"
	case KindBackendTerminated:
		return "BackendTerminated"
	case KindAuthFailure:
		return "AuthFailure"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a gateway failure with a wire mapping. Full stack traces never
// cross the wire; Message carries the backend id and a short cause only.
type Error struct {
	Kind    Kind
	Message string
	Data    interface{}
	cause   error
}

// NewError creates a gateway error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError creates a gateway error preserving the underlying cause for
// errors.Is/As inspection on the server side.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Wire converts the gateway error into its JSON-RPC representation.
func (e *Error) Wire() *jsonrpc.Error {
	wireErr := &jsonrpc.Error{
		Code:    e.Kind.Code(),
		Message: e.Message,
	}
	if e.Data != nil {
		if raw, err := json.Marshal(e.Data); err == nil {
			wireErr.Data = json.RawMessage(raw)
		}
	}
	return wireErr
}

// AsError extracts a gateway *Error from err, wrapping unexpected defects
// as KindInternal with a generic message.
func AsError(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return NewError(KindInternal, "internal gateway error")
}

// MissingCredentialsData is the structured payload attached to
// MissingCredentials errors.
type MissingCredentialsData struct {
	MissingKeys []string `json:"missingKeys"`
	Remediation string   `json:"remediation"`
}

// NewMissingCredentials builds the MissingCredentials error for a tool,
// including the remediation hint for each absent key.
func NewMissingCredentials(tool string, missing []string) *Error {
	hints := make([]string, 0, len(missing))
	for _, key := range missing {
		hints = append(hints, EnvKeyHint(key))
	}
	return &Error{
		Kind:    KindMissingCredentials,
		Message: fmt.Sprintf("MISSING_API_KEYS: tool %s requires credentials that are not configured: %s", tool, strings.Join(missing, ", ")),
		Data: MissingCredentialsData{
			MissingKeys: missing,
			Remediation: fmt.Sprintf("set the following environment variables or add them to the credential file: %s", strings.Join(hints, ", ")),
		},
	}
}

// EnvKeyHint derives the suggested environment variable name for a
// credential key: uppercased, non-alphanumerics replaced with underscores,
// suffixed with _API_KEY.
func EnvKeyHint(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	if !strings.HasSuffix(name, "_API_KEY") {
		name += "_API_KEY"
	}
	return name
}
