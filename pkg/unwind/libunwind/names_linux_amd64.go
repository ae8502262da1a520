package libunwind

// Entry points for the 64-bit x86 family live in libunwind-x86_64 under
// the _Ux86_64_ prefix.
const (
	archSoname = "libunwind-x86_64.so.8"
	archPrefix = "_Ux86_64_"
)
