package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes, mirroring the teacher's own taxonomy.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // tick/verify reported a real failure (rollback, integrity mismatch)
	ExitCommandError = 2 // bad flags, missing database, etc.
)

// ExitError carries the exit code a failed command should terminate
// with, distinct from the error text cobra prints.
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

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError with no wrapped cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code and message.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the intended exit code from err, defaulting to
// ExitFailure for an error that isn't an *ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders a subcommand's result as either human-readable text
// or a single JSON document, per the --format flag.
type Formatter struct {
	Format string
	Writer io.Writer
}

// response is the JSON envelope every subcommand's success path emits.
type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// Emit writes data in the configured format: the JSON envelope for
// "json", or text via toText for anything else.
func (f *Formatter) Emit(data interface{}, toText func(io.Writer, interface{})) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(response{Status: "ok", Data: data})
	}
	toText(f.Writer, data)
	return nil
}
