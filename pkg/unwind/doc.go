// Package unwind walks the call stack of a live process that this process
// is attached to, without the target's cooperation. All unwinding is
// delegated to a libunwind-compatible library through the Lib entry-point
// table; this package owns the session/cursor lifetime rules and the
// iteration protocol around it.
//
// A Session owns one remote address space and is the factory for cursors.
// A Cursor owns the attach handle for one pid and yields a lazy, finite,
// forward-only sequence of frames. Cursors borrow the session's address
// space by reference and must not outlive it. A consumed cursor cannot be
// rewound; re-walking a stack requires a new cursor.
package unwind
