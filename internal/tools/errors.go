package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolNotFound matches (via errors.Is) any [*NotFoundError].
var ErrToolNotFound = errors.New("tool not found")

// NotFoundError is returned when no tool is registered under Name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// Is makes errors.Is(err, ErrToolNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// ExecError is returned when a registered tool ran and failed. Output
// carries whatever diagnostic text the tool produced (stderr for
// subprocesses).
type ExecError struct {
	Tool   string
	Err    error
	Output string
}

func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	switch {
	case out != "" && e.Err != nil:
		return fmt.Sprintf("execution failed: %v: %s", e.Err, out)
	case out != "":
		return "execution failed: " + out
	case e.Err != nil:
		return fmt.Sprintf("execution failed: %v", e.Err)
	default:
		return "execution failed"
	}
}

func (e *ExecError) Unwrap() error { return e.Err }
