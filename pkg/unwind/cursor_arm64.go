package unwind

// unw_cursor_t length and register numbers for aarch64, from
// libunwind/include/libunwind-aarch64.h.
const (
	cursorWords = 4096 // UNW_TDEP_CURSOR_LEN

	RegIP = 32 // UNW_AARCH64_PC
	RegSP = 31 // UNW_AARCH64_SP
	RegBX = 19 // UNW_AARCH64_X19, callee-saved scratch
)
