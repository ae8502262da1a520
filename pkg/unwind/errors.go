package unwind

import "fmt"

// Error wraps a raw libunwind return code verbatim. The meanings of
// individual codes are library-defined; consult the documentation of the
// bound library when a specific code matters.
type Error struct {
	Code int
}

func (err Error) Error() string {
	return fmt.Sprintf("libunwind error %d", err.Code)
}

// Library return codes used by this package. Only the codes this package
// acts on are named here; everything else is passed through inside Error.
const (
	// EUnspec is reported when a library call fails without a code of its
	// own, such as address-space or attach-handle creation returning NULL.
	EUnspec = -1

	// ENoMem is the buffer-too-small code returned by the procedure-name
	// lookup. The value matches every released libunwind enumeration, but a
	// binding against a patched build should verify it at resolve time.
	ENoMem = -2
)
