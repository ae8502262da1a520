// Package libunwind binds the libunwind entry points at run time. Loading
// the library with dlopen instead of linking it keeps libunwind an optional
// runtime dependency: binaries run on systems without it installed as long
// as Load is never called.
package libunwind

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/remotestack/remotestack/pkg/logflags"
	"github.com/remotestack/remotestack/pkg/unwind"
)

const ptraceSoname = "libunwind-ptrace.so.0"

type lib struct {
	createAddrSpace  func(accessors uintptr, byteorder int32) uintptr
	destroyAddrSpace func(as uintptr)
	setCachingPolicy func(as uintptr, policy int32) int32
	initRemote       func(cursor unsafe.Pointer, as uintptr, upt uintptr) int32
	step             func(cursor unsafe.Pointer) int32
	getReg           func(cursor unsafe.Pointer, reg int32, val *uint64) int32
	getProcName      func(cursor unsafe.Pointer, buf unsafe.Pointer, size uintptr, off *uint64) int32
	uptCreate        func(pid int32) uintptr
	uptDestroy       func(upt uintptr)

	// address of the _UPT_accessors table exported by libunwind-ptrace
	accessors uintptr
}

// Load dlopens libunwind-ptrace and the architecture-qualified libunwind
// library and resolves the entry points a session needs. The resolved
// table is safe to share across sessions.
func Load() (unwind.Lib, error) {
	log := logflags.BindingLogger()

	ptraceH, err := purego.Dlopen(ptraceSoname, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", ptraceSoname, err)
	}
	archH, err := purego.Dlopen(archSoname, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", archSoname, err)
	}

	l := &lib{}
	purego.RegisterLibFunc(&l.createAddrSpace, archH, archPrefix+"create_addr_space")
	purego.RegisterLibFunc(&l.destroyAddrSpace, archH, archPrefix+"destroy_addr_space")
	purego.RegisterLibFunc(&l.setCachingPolicy, archH, archPrefix+"set_caching_policy")
	purego.RegisterLibFunc(&l.initRemote, archH, archPrefix+"init_remote")
	purego.RegisterLibFunc(&l.step, archH, archPrefix+"step")
	purego.RegisterLibFunc(&l.getReg, archH, archPrefix+"get_reg")
	purego.RegisterLibFunc(&l.getProcName, archH, archPrefix+"get_proc_name")
	purego.RegisterLibFunc(&l.uptCreate, ptraceH, "_UPT_create")
	purego.RegisterLibFunc(&l.uptDestroy, ptraceH, "_UPT_destroy")

	l.accessors, err = purego.Dlsym(ptraceH, "_UPT_accessors")
	if err != nil {
		return nil, fmt.Errorf("could not resolve _UPT_accessors: %w", err)
	}

	log.WithField("lib", archSoname).Debug("resolved libunwind entry points")
	return l, nil
}

func (l *lib) CreateAddrSpace() unwind.AddrSpace {
	return unwind.AddrSpace(l.createAddrSpace(l.accessors, 0))
}

func (l *lib) DestroyAddrSpace(as unwind.AddrSpace) {
	l.destroyAddrSpace(uintptr(as))
}

func (l *lib) SetCachingPolicy(as unwind.AddrSpace, policy unwind.CachingPolicy) int {
	return int(l.setCachingPolicy(uintptr(as), int32(policy)))
}

func (l *lib) UPTCreate(pid int) unwind.UPT {
	return unwind.UPT(l.uptCreate(int32(pid)))
}

func (l *lib) UPTDestroy(upt unwind.UPT) {
	l.uptDestroy(uintptr(upt))
}

func (l *lib) InitRemote(c *unwind.CursorState, as unwind.AddrSpace, upt unwind.UPT) int {
	return int(l.initRemote(unsafe.Pointer(c), uintptr(as), uintptr(upt)))
}

func (l *lib) Step(c *unwind.CursorState) int {
	return int(l.step(unsafe.Pointer(c)))
}

func (l *lib) GetReg(c *unwind.CursorState, reg int) (uint64, int) {
	var val uint64
	code := l.getReg(unsafe.Pointer(c), int32(reg), &val)
	return val, int(code)
}

func (l *lib) GetProcName(c *unwind.CursorState, buf []byte) (uint64, int) {
	var off uint64
	code := l.getProcName(unsafe.Pointer(c), unsafe.Pointer(&buf[0]), uintptr(len(buf)), &off)
	return off, int(code)
}
