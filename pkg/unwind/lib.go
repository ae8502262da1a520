package unwind

// AddrSpace is the opaque handle to a remote address space created by the
// library. Zero is never a valid handle.
type AddrSpace uintptr

// UPT is the opaque attach handle granting the library the right to read
// one process's memory and registers. This package never inspects it.
type UPT uintptr

// CachingPolicy controls how aggressively the library caches architecture
// and debug metadata across unwinds. The values match libunwind's
// unw_caching_policy_t.
type CachingPolicy int32

const (
	CacheNone CachingPolicy = iota
	CacheGlobal
	CachePerThread
)

// Lib is the resolved entry-point table for the target architecture's
// word size. How the entry points are obtained (dlopen, static link, test
// double) is the binding's concern; a Session only assumes every method is
// callable. All methods are blocking foreign calls with library-defined
// signed return codes: zero is success unless documented otherwise.
type Lib interface {
	// CreateAddrSpace creates a remote address space backed by the
	// library's ptrace accessors. Returns 0 on failure.
	CreateAddrSpace() AddrSpace
	DestroyAddrSpace(as AddrSpace)
	SetCachingPolicy(as AddrSpace, policy CachingPolicy) int

	// UPTCreate creates the attach handle for pid. Returns 0 on failure.
	UPTCreate(pid int) UPT
	UPTDestroy(upt UPT)

	// InitRemote initializes cursor state against an attach handle. The
	// state is undefined until this returns 0.
	InitRemote(c *CursorState, as AddrSpace, upt UPT) int

	// Step unwinds to the parent frame. Positive means another frame is
	// available, zero means no more frames, negative is an error code.
	Step(c *CursorState) int

	// GetReg reads register reg at the current frame.
	GetReg(c *CursorState, reg int) (uint64, int)

	// GetProcName writes the NUL-terminated name of the procedure owning
	// the current instruction pointer into buf, returning the offset of
	// the instruction pointer from the procedure start and the library
	// code. ENoMem means buf was too small.
	GetProcName(c *CursorState, buf []byte) (uint64, int)
}

// CursorState is the library's per-attach unwind state. It is opaque to
// this package: the library writes it during InitRemote and mutates it on
// every Step. Its size is architecture-dependent and must match the bound
// library's unw_cursor_t.
type CursorState [cursorWords]uint64
