package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/relay/pkg/models"
)

// Invoker sends one prompt to a backend. Implementations must honor ctx.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, params models.Params) (models.Response, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, prompt string, params models.Params) (models.Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string, params models.Params) (models.Response, error) {
	return f(ctx, prompt, params)
}

// ErrInvocation matches every *InvocationError.
var ErrInvocation = errors.New("invocation failed")

// InvocationError is a backend failure. Permanent errors are not retried.
type InvocationError struct {
	Model      string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *InvocationError) Error() string {
	msg := "invocation failed"
	if e.Model != "" {
		msg += " for " + e.Model
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvocation) match any InvocationError.
func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

// IsPermanent reports whether err is an InvocationError marked permanent.
func IsPermanent(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie) && ie.Permanent
}

// Permanent wraps err so the orchestrator stops retrying it.
func Permanent(err error) error {
	return &InvocationError{Permanent: true, Err: err}
}
