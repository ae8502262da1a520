package unwind

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// nameBufSize is the initial capacity of the procedure-name buffer. The
// buffer doubles until the library stops reporting ENoMem.
const nameBufSize = 128

// Cursor walks the stack of one attached process, innermost frame first.
// Drive it like bufio.Scanner: Next advances, PC/StackPointer/Register/
// ProcedureName read the current frame, Err reports why iteration stopped.
//
// The frame denoted by the cursor is a transient view: values read after
// the next call to Next belong to the next frame. Calling the frame
// queries after Next has returned false is unspecified behavior.
//
// A cursor is not safe for concurrent use and cannot be rewound; walking
// the same process again requires a new cursor (the target's state may
// have changed between walks in any case).
type Cursor struct {
	lib     Lib
	session *Session
	state   CursorState
	upt     UPT
	pid     int

	// initial is set until the first Next: the attach-time frame is
	// reported without stepping, because the library does not count the
	// frame where execution currently is as a step.
	initial bool
	done    bool
	closed  bool
	err     error
	pc      uint64

	log *logrus.Entry
}

// Next advances to the next frame. It returns false when the stack is
// exhausted or unwinding failed; Err distinguishes the two. Once Next has
// returned false it keeps returning false.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if c.initial {
		c.initial = false
	} else {
		switch code := c.lib.Step(&c.state); {
		case code == 0:
			c.done = true
			return false
		case code < 0:
			c.fail(code)
			return false
		}
	}

	pc, err := c.InstructionPointer()
	if err != nil {
		c.done = true
		c.err = err
		return false
	}
	if pc == 0 {
		// Ran off the top of the stack: no parent frame, clean end.
		c.done = true
		return false
	}
	c.pc = pc
	return true
}

// Err returns nil if the cursor stopped at the natural end of the stack,
// or the terminal unwinding error otherwise.
func (c *Cursor) Err() error {
	return c.err
}

// PC returns the instruction pointer of the frame selected by the last
// successful Next.
func (c *Cursor) PC() uint64 {
	return c.pc
}

// Register reads an arbitrary register by its libunwind number. Register
// numbers are architecture-defined and not validated here.
func (c *Cursor) Register(reg int) (uint64, error) {
	val, code := c.lib.GetReg(&c.state, reg)
	if code != 0 {
		return 0, Error{Code: code}
	}
	return val, nil
}

// InstructionPointer reads the instruction pointer of the current frame.
func (c *Cursor) InstructionPointer() (uint64, error) {
	return c.Register(RegIP)
}

// StackPointer reads the stack pointer of the current frame.
func (c *Cursor) StackPointer() (uint64, error) {
	return c.Register(RegSP)
}

// ProcedureName resolves the name of the procedure owning the current
// instruction pointer. Resolution is best-effort: invalid bytes in the
// name are replaced rather than failing the call, and results may be
// served from the session's cache.
func (c *Cursor) ProcedureName() (string, error) {
	if name, ok := c.session.cachedName(c.pid, c.pc); ok {
		return name, nil
	}

	buf := make([]byte, nameBufSize)
	for {
		_, code := c.lib.GetProcName(&c.state, buf)
		if code == 0 {
			break
		}
		if code == ENoMem {
			c.log.WithFields(logrus.Fields{"pc": c.pc, "size": len(buf) * 2}).Debug("growing name buffer")
			buf = make([]byte, len(buf)*2)
			continue
		}
		return "", Error{Code: code}
	}

	name := decodeName(buf)
	c.session.storeName(c.pid, c.pc, name)
	return name, nil
}

// Close releases the attach handle. It is valid in every cursor state,
// including before the first Next and after an error, and releases the
// handle exactly once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.lib.UPTDestroy(c.upt)
}

func (c *Cursor) fail(code int) {
	c.done = true
	c.err = Error{Code: code}
	c.log.WithFields(logrus.Fields{"pid": c.pid, "code": code}).Debug("step failed")
}

// decodeName turns the library's NUL-terminated buffer into a string,
// substituting the replacement character for invalid byte sequences.
func decodeName(buf []byte) string {
	n := len(buf)
	for i, b := range buf {
		if b == 0 {
			n = i
			break
		}
	}
	return strings.ToValidUTF8(string(buf[:n]), "�")
}
