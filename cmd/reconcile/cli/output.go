package cli

import (
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	ExitFailure = 1
	// ExitPending reports a dry run that found work an --apply run would do.
	ExitPending = 10
)

// ExitError carries the process exit code of a failed or pending command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. nil is success and any
// other error is a failure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output renders results as text or JSON.
type Output struct {
	Format string
	Writer io.Writer
}

// Result writes data. text renders the human form; JSON output ignores it.
func (o *Output) Result(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	text(o.Writer)
	return nil
}

// Fail writes err in the configured format.
func (o *Output) Fail(err error) {
	code := errorCode(err)
	if o.Format == "json" {
		_ = json.NewEncoder(o.Writer).Encode(Response{Status: "error", Error: &ErrorBody{Code: code, Message: err.Error()}})
		return
	}
	fmt.Fprintf(o.Writer, "error [%s]: %v\n", code, err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInvalidDefinition):
		return "invalid_definition"
	case errors.Is(err, shared.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, shared.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, shared.ErrRunInProgress):
		return "run_in_progress"
	case errors.Is(err, shared.ErrStorage):
		return "storage"
	default:
		return "failure"
	}
}
