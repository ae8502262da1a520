package unwind_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/remotestack/remotestack/pkg/unwind"
)

// fakeLib is a scripted entry-point table. Step and instruction-pointer
// reads consume their scripts in order; counters record teardown calls.
type fakeLib struct {
	stepScript []int
	stepCalls  int

	ips     []uint64
	ipCodes []int
	ipReads int

	regs    map[int]uint64
	regCode int

	name      []byte
	nameCodes []int
	nameSizes []int
	nameCalls int

	policy      unwind.CachingPolicy
	policyCalls int
	policyCode  int

	spaceFail       bool
	spacesCreated   int
	spacesDestroyed int

	initCode     int
	uptFail      bool
	uptCreated   int
	uptDestroyed int
}

func (f *fakeLib) CreateAddrSpace() unwind.AddrSpace {
	if f.spaceFail {
		return 0
	}
	f.spacesCreated++
	return unwind.AddrSpace(0xa5)
}

func (f *fakeLib) DestroyAddrSpace(as unwind.AddrSpace) {
	f.spacesDestroyed++
}

func (f *fakeLib) SetCachingPolicy(as unwind.AddrSpace, policy unwind.CachingPolicy) int {
	f.policyCalls++
	f.policy = policy
	return f.policyCode
}

func (f *fakeLib) UPTCreate(pid int) unwind.UPT {
	if f.uptFail {
		return 0
	}
	f.uptCreated++
	return unwind.UPT(0x1000 + pid)
}

func (f *fakeLib) UPTDestroy(upt unwind.UPT) {
	f.uptDestroyed++
}

func (f *fakeLib) InitRemote(c *unwind.CursorState, as unwind.AddrSpace, upt unwind.UPT) int {
	return f.initCode
}

func (f *fakeLib) Step(c *unwind.CursorState) int {
	if f.stepCalls >= len(f.stepScript) {
		return 0
	}
	code := f.stepScript[f.stepCalls]
	f.stepCalls++
	return code
}

func (f *fakeLib) GetReg(c *unwind.CursorState, reg int) (uint64, int) {
	if reg == unwind.RegIP {
		i := f.ipReads
		f.ipReads++
		code := 0
		if i < len(f.ipCodes) {
			code = f.ipCodes[i]
		}
		if code != 0 || i >= len(f.ips) {
			return 0, code
		}
		return f.ips[i], 0
	}
	return f.regs[reg], f.regCode
}

func (f *fakeLib) GetProcName(c *unwind.CursorState, buf []byte) (uint64, int) {
	f.nameSizes = append(f.nameSizes, len(buf))
	code := 0
	if f.nameCalls < len(f.nameCodes) {
		code = f.nameCodes[f.nameCalls]
	}
	f.nameCalls++
	if code != 0 {
		return 0, code
	}
	n := copy(buf, f.name)
	if n < len(buf) {
		buf[n] = 0
	}
	return 0, 0
}

func newCursor(t *testing.T, f *fakeLib, opts ...unwind.Option) (*unwind.Session, *unwind.Cursor) {
	t.Helper()
	sess, err := unwind.New(f, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cursor, err := sess.Cursor(1234)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	return sess, cursor
}

func drain(cursor *unwind.Cursor) []uint64 {
	var pcs []uint64
	for cursor.Next() {
		pcs = append(pcs, cursor.PC())
	}
	return pcs
}

func TestFirstFrameNeedsNoStep(t *testing.T) {
	f := &fakeLib{ips: []uint64{0x401000}}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	if !cursor.Next() {
		t.Fatalf("Next() = false on a fresh cursor, err: %v", cursor.Err())
	}
	if cursor.PC() != 0x401000 {
		t.Errorf("PC() = %#x, want %#x", cursor.PC(), 0x401000)
	}
	if f.stepCalls != 0 {
		t.Errorf("Step called %d times before the first frame, want 0", f.stepCalls)
	}
}

func TestWalkTerminates(t *testing.T) {
	f := &fakeLib{
		stepScript: []int{1, 1, 1, 0},
		ips:        []uint64{0xa1, 0xa2, 0xa3, 0xa4},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	pcs := drain(cursor)
	want := []uint64{0xa1, 0xa2, 0xa3, 0xa4}
	if !reflect.DeepEqual(pcs, want) {
		t.Errorf("walk yielded %#x, want %#x", pcs, want)
	}
	if err := cursor.Err(); err != nil {
		t.Errorf("Err() = %v after a clean walk", err)
	}
	if cursor.Next() {
		t.Error("Next() = true after exhaustion")
	}
}

func TestZeroIPEndsWalk(t *testing.T) {
	f := &fakeLib{
		stepScript: []int{1, 1},
		ips:        []uint64{0xb1, 0, 0xb3},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	pcs := drain(cursor)
	want := []uint64{0xb1}
	if !reflect.DeepEqual(pcs, want) {
		t.Errorf("walk yielded %#x, want %#x", pcs, want)
	}
	for _, pc := range pcs {
		if pc == 0 {
			t.Error("walk yielded the end sentinel 0 as a frame")
		}
	}
	if err := cursor.Err(); err != nil {
		t.Errorf("Err() = %v, want nil for the end-of-stack sentinel", err)
	}
}

func TestStepErrorIsTerminal(t *testing.T) {
	f := &fakeLib{
		stepScript: []int{1, -5, 1, 1},
		ips:        []uint64{0xc1, 0xc2, 0xc3, 0xc4},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	pcs := drain(cursor)
	want := []uint64{0xc1, 0xc2}
	if !reflect.DeepEqual(pcs, want) {
		t.Errorf("walk yielded %#x, want %#x", pcs, want)
	}
	var uerr unwind.Error
	if !errors.As(cursor.Err(), &uerr) || uerr.Code != -5 {
		t.Fatalf("Err() = %v, want unwind.Error{Code: -5}", cursor.Err())
	}
	if cursor.Next() {
		t.Error("Next() = true after a step error")
	}
	if f.stepCalls != 2 {
		t.Errorf("Step called %d times, want 2 (no retry after failure)", f.stepCalls)
	}
}

func TestIPReadErrorIsTerminal(t *testing.T) {
	f := &fakeLib{
		stepScript: []int{1},
		ips:        []uint64{0xd1, 0xd2},
		ipCodes:    []int{0, 8},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	pcs := drain(cursor)
	want := []uint64{0xd1}
	if !reflect.DeepEqual(pcs, want) {
		t.Errorf("walk yielded %#x, want %#x", pcs, want)
	}
	var uerr unwind.Error
	if !errors.As(cursor.Err(), &uerr) || uerr.Code != 8 {
		t.Fatalf("Err() = %v, want unwind.Error{Code: 8}", cursor.Err())
	}
}

func TestRegisterErrorCode(t *testing.T) {
	f := &fakeLib{ips: []uint64{0xe1}, regCode: 3}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	if !cursor.Next() {
		t.Fatalf("Next() = false, err: %v", cursor.Err())
	}
	for name, read := range map[string]func() (uint64, error){
		"StackPointer": cursor.StackPointer,
		"Register":     func() (uint64, error) { return cursor.Register(unwind.RegBX) },
	} {
		_, err := read()
		var uerr unwind.Error
		if !errors.As(err, &uerr) || uerr.Code != 3 {
			t.Errorf("%s: err = %v, want unwind.Error{Code: 3}", name, err)
		}
	}

	// instruction pointer reads have their own script
	f2 := &fakeLib{ips: []uint64{0xe2, 0}, ipCodes: []int{0, 9}}
	_, cursor2 := newCursor(t, f2)
	defer cursor2.Close()
	if !cursor2.Next() {
		t.Fatalf("Next() = false, err: %v", cursor2.Err())
	}
	_, err := cursor2.InstructionPointer()
	var uerr unwind.Error
	if !errors.As(err, &uerr) || uerr.Code != 9 {
		t.Errorf("InstructionPointer: err = %v, want unwind.Error{Code: 9}", err)
	}
}

func TestProcNameBufferGrowth(t *testing.T) {
	f := &fakeLib{
		ips:       []uint64{0xf1},
		name:      []byte("runtime.futexsleep"),
		nameCodes: []int{unwind.ENoMem, unwind.ENoMem, 0},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	if !cursor.Next() {
		t.Fatalf("Next() = false, err: %v", cursor.Err())
	}
	name, err := cursor.ProcedureName()
	if err != nil {
		t.Fatalf("ProcedureName: %v", err)
	}
	if name != "runtime.futexsleep" {
		t.Errorf("ProcedureName() = %q, want %q", name, "runtime.futexsleep")
	}
	if want := []int{128, 256, 512}; !reflect.DeepEqual(f.nameSizes, want) {
		t.Errorf("buffer sizes = %v, want %v", f.nameSizes, want)
	}
}

func TestProcNameInvalidBytes(t *testing.T) {
	f := &fakeLib{
		ips:  []uint64{0xf2},
		name: []byte{0xff, 0xfe, 'm', 'a', 'i', 'n'},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	if !cursor.Next() {
		t.Fatalf("Next() = false, err: %v", cursor.Err())
	}
	name, err := cursor.ProcedureName()
	if err != nil {
		t.Fatalf("ProcedureName: %v", err)
	}
	if !utf8.ValidString(name) {
		t.Errorf("ProcedureName() = %q is not valid UTF-8", name)
	}
	if !strings.Contains(name, "�") || !strings.HasSuffix(name, "main") {
		t.Errorf("ProcedureName() = %q, want replacement characters followed by %q", name, "main")
	}
}

func TestProcNameOtherError(t *testing.T) {
	f := &fakeLib{
		ips:       []uint64{0xf3},
		nameCodes: []int{-9},
	}
	_, cursor := newCursor(t, f)
	defer cursor.Close()

	if !cursor.Next() {
		t.Fatalf("Next() = false, err: %v", cursor.Err())
	}
	_, err := cursor.ProcedureName()
	var uerr unwind.Error
	if !errors.As(err, &uerr) || uerr.Code != -9 {
		t.Errorf("ProcedureName: err = %v, want unwind.Error{Code: -9}", err)
	}
	if f.nameCalls != 1 {
		t.Errorf("GetProcName called %d times, want 1 (only ENoMem retries)", f.nameCalls)
	}
}

func TestCloseReleasesHandleOnce(t *testing.T) {
	prepare := map[string]func(f *fakeLib, cursor *unwind.Cursor){
		"fresh": func(f *fakeLib, cursor *unwind.Cursor) {},
		"mid-iteration": func(f *fakeLib, cursor *unwind.Cursor) {
			cursor.Next()
		},
		"exhausted": func(f *fakeLib, cursor *unwind.Cursor) {
			drain(cursor)
		},
		"errored": func(f *fakeLib, cursor *unwind.Cursor) {
			f.stepScript = []int{-1}
			drain(cursor)
		},
	}
	for state, setup := range prepare {
		f := &fakeLib{stepScript: []int{1, 0}, ips: []uint64{0x11, 0x12}}
		_, cursor := newCursor(t, f)
		setup(f, cursor)

		cursor.Close()
		cursor.Close()
		if f.uptDestroyed != 1 {
			t.Errorf("%s: attach handle released %d times, want 1", state, f.uptDestroyed)
		}
	}
}
