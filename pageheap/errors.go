package pageheap

import (
	"errors"
	"fmt"

	"github.com/joshuapare/pageheap/internal/logger"
)

var (
	// ErrNoSpace indicates no free span was large enough and the heap could
	// not grow.
	ErrNoSpace = errors.New("pageheap: no span large enough")

	// ErrGrowFail indicates the memory source or the page map could not
	// supply a new chunk.
	ErrGrowFail = errors.New("pageheap: grow failed")

	// ErrZeroPages indicates a request for zero pages.
	ErrZeroPages = errors.New("pageheap: page count must be positive")

	// ErrBadConfig indicates an invalid Config.
	ErrBadConfig = errors.New("pageheap: invalid config")

	// ErrMisaligned indicates the memory source returned an address that is
	// not page aligned.
	ErrMisaligned = errors.New("pageheap: memory source returned misaligned chunk")
)

// CorruptionError is the panic value raised when the heap detects that its
// own bookkeeping, or a caller's use of it, is inconsistent: double frees,
// frees of spans with live objects, broken list links. It is never returned
// as an ordinary error.
type CorruptionError struct {
	Op  string
	Msg string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("pageheap: %s: %s", e.Op, e.Msg)
}

// throw reports a fatal inconsistency and panics.
func throw(op, format string, args ...any) {
	err := &CorruptionError{Op: op, Msg: fmt.Sprintf(format, args...)}
	logger.Error("pageheap: heap corruption", "op", op, "detail", err.Msg)
	panic(err)
}
