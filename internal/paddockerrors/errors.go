// Package paddockerrors provides error construction helpers used
// throughout the runner core. Prefer it over the standard errors and fmt
// packages for anything that crosses a component boundary: it records a
// stack trace at the point of construction and preserves the full cause
// chain so a reporter can print a readable diagnosis when a unit fails
// for an internal (as opposed to test-reported) reason.
//
// Construct new errors with New or Errorf. Add context to an existing
// error with Wrap or Wrapf:
//
//	paddockerrors.New("binary path does not exist")
//	paddockerrors.Wrapf(err, "failed to spawn %s", binID)
//
// Format an error chain with "%+v" to include the recorded stack traces.
package paddockerrors

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paddock-dev/paddock/internal/paddockerrors/stack"
)

// E is the error implementation returned by this package.
type E struct {
	msg   string
	stk   stack.Stack
	cause error
}

// Error implements the error interface.
func (e *E) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap implements the errors.Unwrap protocol.
func (e *E) Unwrap() error {
	return e.cause
}

type unwrapper interface {
	unwrap() (msg string, stk stack.Stack, cause error)
}

func (e *E) unwrap() (msg string, stk stack.Stack, cause error) {
	return e.msg, e.stk, e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		if e, ok := err.(unwrapper); ok {
			msg, stk, cause := e.unwrap()
			chain = append(chain, fmt.Sprintf("%s\n%v", msg, stk))
			err = cause
		} else {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
		}
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter; "%+v" prints the full chain with stacks.
func (e *E) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
		return
	}
	io.WriteString(s, e.Error())
}

// New creates an error with the given message, recording the call site.
func New(msg string) *E {
	return &E{msg, stack.New(1), nil}
}

// Errorf creates an error with a formatted message, recording the call site.
func Errorf(format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates an error that adds msg as context on top of cause.
func Wrap(cause error, msg string) *E {
	return &E{msg, stack.New(1), cause}
}

// Wrapf creates an error that adds a formatted message as context on top
// of cause.
func Wrapf(cause error, format string, args ...interface{}) *E {
	return &E{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err, if any.
func Unwrap(err error) error { return errors.Unwrap(err) }
