package libunwind

const (
	archSoname = "libunwind-aarch64.so.8"
	archPrefix = "_Uaarch64_"
)
