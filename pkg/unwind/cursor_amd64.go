package unwind

// unw_cursor_t length and register numbers for x86_64, from
// libunwind/include/libunwind-x86_64.h.
const (
	cursorWords = 127 // UNW_TDEP_CURSOR_LEN

	RegIP = 16 // UNW_X86_64_RIP
	RegSP = 7  // UNW_X86_64_RSP
	RegBX = 3  // UNW_X86_64_RBX
)
