//go:build wazero

package wasmvm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/cryguy/luavm/internal/core"
)

// nopStack satisfies core.CallStack for paths that never reach a callback.
type nopStack struct{}

func (nopStack) GetGlobal(string) int     { return 0 }
func (nopStack) GetField(int, string) int { return 0 }
func (nopStack) PushString(string)        {}
func (nopStack) PCall(int, int, int) int  { return core.StatusOK }
func (nopStack) ToString(int) string      { return "" }
func (nopStack) Remove(int)               {}
func (nopStack) Pop(int)                  {}

// minimalGuest is a hand-assembled wasm module: a bump allocator
// (malloc/free over one exported memory page) plus a demo/Echo class whose
// echo export returns its argument buffer repacked as ptr<<32|len and whose
// null export returns the packed null.
var minimalGuest = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, // magic + version
	// type: (i32)->i32, (i32)->(), ()->i64, (i32,i32)->i64
	0x01, 0x14, 0x04,
	0x60, 0x01, 0x7F, 0x01, 0x7F,
	0x60, 0x01, 0x7F, 0x00,
	0x60, 0x00, 0x01, 0x7E,
	0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7E,
	// function: four funcs, one per type
	0x03, 0x05, 0x04, 0x00, 0x01, 0x02, 0x03,
	// memory: min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global: mutable i32 bump pointer, init 8
	0x06, 0x06, 0x01, 0x7F, 0x01, 0x41, 0x08, 0x0B,
	// export: memory, malloc, free, demo/Echo.null, demo/Echo.echo
	0x07, 0x3C, 0x05,
	0x06, 0x6D, 0x65, 0x6D, 0x6F, 0x72, 0x79, 0x02, 0x00,
	0x06, 0x6D, 0x61, 0x6C, 0x6C, 0x6F, 0x63, 0x00, 0x00,
	0x04, 0x66, 0x72, 0x65, 0x65, 0x00, 0x01,
	0x0E, 0x64, 0x65, 0x6D, 0x6F, 0x2F, 0x45, 0x63, 0x68, 0x6F, 0x2E, 0x6E, 0x75, 0x6C, 0x6C, 0x00, 0x02,
	0x0E, 0x64, 0x65, 0x6D, 0x6F, 0x2F, 0x45, 0x63, 0x68, 0x6F, 0x2E, 0x65, 0x63, 0x68, 0x6F, 0x00, 0x03,
	// code
	0x0A, 0x22, 0x04,
	// malloc: return old bump pointer, advance by size
	0x0B, 0x00, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6A, 0x24, 0x00, 0x0B,
	// free: no-op
	0x02, 0x00, 0x0B,
	// demo/Echo.null: i64.const 0
	0x04, 0x00, 0x42, 0x00, 0x0B,
	// demo/Echo.echo: (ptr extended << 32) | len extended
	0x0C, 0x00, 0x20, 0x00, 0xAD, 0x42, 0x20, 0x86, 0x20, 0x01, 0xAD, 0x84, 0x0B,
}

func writeGuest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(path, minimalGuest, 0o644); err != nil {
		t.Fatalf("writing guest: %v", err)
	}
	return path
}

func str(s string) *string { return &s }

func TestCallBeforeInit(t *testing.T) {
	b := NewBackend(core.Config{})
	_, err := b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", nil)
	if !errors.Is(err, core.ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized, got %v", err)
	}
}

func TestInitMissingLibrary(t *testing.T) {
	b := NewBackend(core.Config{})
	err := b.Init(nopStack{}, "testdata/no-such-guest.wasm", nil)
	if err == nil {
		t.Fatal("expected error for missing library")
	}
	if !strings.Contains(err.Error(), "no-such-guest.wasm") {
		t.Fatalf("error should name the library path, got %v", err)
	}
	if b.Initialized() {
		t.Fatal("failed init must not publish the VM handle")
	}
}

func TestInitRejectsUnknownOption(t *testing.T) {
	b := NewBackend(core.Config{})
	err := b.Init(nopStack{}, "testdata/no-such-guest.wasm", []string{"--frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "--frobnicate") {
		t.Fatalf("expected unrecognized-option error, got %v", err)
	}
}

func TestInitRejectsMalformedGuest(t *testing.T) {
	b := NewBackend(core.Config{})
	// Not a wasm binary; compilation must fail and name the path.
	err := b.Init(nopStack{}, "testdata/not-wasm.txt", nil)
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !strings.Contains(err.Error(), "not-wasm.txt") {
		t.Fatalf("error should name the library path, got %v", err)
	}
	if b.Initialized() {
		t.Fatal("failed init must not publish the VM handle")
	}
}

func TestInitRetriesAfterFailure(t *testing.T) {
	b := NewBackend(core.Config{})
	if err := b.Init(nopStack{}, "testdata/no-such-guest.wasm", nil); err == nil {
		t.Fatal("expected error for missing library")
	}
	// A failed init publishes nothing; a retry must not report
	// ErrAlreadyInitialized.
	err := b.Init(nopStack{}, "testdata/no-such-guest.wasm", nil)
	if errors.Is(err, core.ErrAlreadyInitialized) {
		t.Fatalf("retry after failed init reported %v", err)
	}
}

func initedGuestBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(core.Config{})
	if err := b.Init(nopStack{}, writeGuest(t), nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(b.Shutdown)
	return b
}

func TestGuestEchoRoundTrip(t *testing.T) {
	b := initedGuestBackend(t)

	in := "hello\x00world"
	ret, err := b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", []*string{str(in)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret == nil || *ret != in {
		t.Fatalf("echo = %v, want %q", ret, in)
	}

	// An empty string is a real buffer, not the null return.
	ret, err = b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", []*string{str("")})
	if err != nil {
		t.Fatalf("Call with empty string: %v", err)
	}
	if ret == nil || *ret != "" {
		t.Fatalf("echo(\"\") = %v, want empty string", ret)
	}

	// A nil argument crosses as (0, 0) and comes back as the packed null.
	ret, err = b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", []*string{nil})
	if err != nil {
		t.Fatalf("Call with nil: %v", err)
	}
	if ret != nil {
		t.Fatalf("echo(nil) = %q, want nil", *ret)
	}

	ret, err = b.Call(nopStack{}, "demo/Echo", "null", "()s", nil)
	if err != nil {
		t.Fatalf("Call null: %v", err)
	}
	if ret != nil {
		t.Fatalf("null = %q, want nil", *ret)
	}
}

func TestGuestResolutionCaching(t *testing.T) {
	b := initedGuestBackend(t)

	if _, err := b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", []*string{str("x")}); err != nil {
		t.Fatalf("first Call: %v", err)
	}
	v, ok := b.bindings.Load(core.CallStack(nopStack{}))
	if !ok {
		t.Fatal("no binding for the primary stack")
	}
	bnd := v.(*binding)
	if len(bnd.resolved) != 1 {
		t.Fatalf("resolved cache holds %d entries, want 1", len(bnd.resolved))
	}

	// A repeat call reuses the cached export.
	if _, err := b.Call(nopStack{}, "demo/Echo", "echo", "(s)s", []*string{str("y")}); err != nil {
		t.Fatalf("cached Call: %v", err)
	}
	if len(bnd.resolved) != 1 {
		t.Fatalf("resolved cache holds %d entries after a repeat call, want 1", len(bnd.resolved))
	}

	// Failed resolutions are not cached.
	var cnf *core.ClassNotFoundError
	if _, err := b.Call(nopStack{}, "demo/Missing", "echo", "(s)s", nil); !errors.As(err, &cnf) {
		t.Fatalf("expected ClassNotFoundError, got %v", err)
	}
	if len(bnd.resolved) != 1 {
		t.Fatalf("resolved cache holds %d entries after a failed resolution, want 1", len(bnd.resolved))
	}
}

func TestGuestResolutionErrors(t *testing.T) {
	b := initedGuestBackend(t)

	var cnf *core.ClassNotFoundError
	if _, err := b.Call(nopStack{}, "demo/Missing", "echo", "(s)s", nil); !errors.As(err, &cnf) {
		t.Fatalf("expected ClassNotFoundError, got %v", err)
	}

	var mnf *core.MethodNotFoundError
	if _, err := b.Call(nopStack{}, "demo/Echo", "missing", "()s", nil); !errors.As(err, &mnf) {
		t.Fatalf("expected MethodNotFoundError, got %v", err)
	}

	// The export is found but its parameter count does not match the
	// argument vector.
	if _, err := b.Call(nopStack{}, "demo/Echo", "echo", "(ss)s", []*string{str("a"), str("b")}); !errors.As(err, &mnf) {
		t.Fatalf("expected MethodNotFoundError for arity mismatch, got %v", err)
	}
}

func mustPanicNoActiveCall(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, core.ErrNoActiveCall) {
			t.Fatalf("panic = %v, want ErrNoActiveCall", r)
		}
	}()
	fn()
}

func TestCallbackGuardOutsideWindow(t *testing.T) {
	// A context without a binding has no callback channel at all.
	mustPanicNoActiveCall(t, func() {
		currentStack(context.Background())
	})

	// A bound context with no outbound call in flight must refuse too.
	bnd := &binding{active: core.NewActiveCall(4)}
	ctx := context.WithValue(context.Background(), bindingKey, bnd)
	mustPanicNoActiveCall(t, func() {
		currentStack(ctx)
	})
}

func TestGuestStringPacking(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, minimalGuest)
	if err != nil {
		t.Fatalf("instantiating guest: %v", err)
	}
	bnd := &binding{mod: mod}

	packed := writeGuestString(ctx, mod, "round trip")
	if packed == 0 {
		t.Fatal("packed string must not be the null return")
	}
	ret, err := bnd.copyOut(ctx, packed)
	if err != nil {
		t.Fatalf("copyOut: %v", err)
	}
	if ret == nil || *ret != "round trip" {
		t.Fatalf("round trip = %v, want round trip", ret)
	}

	// The empty string packs to a non-null value distinguishable from nil.
	packed = writeGuestString(ctx, mod, "")
	if packed == 0 {
		t.Fatal("empty string must not pack to the null return")
	}
	ret, err = bnd.copyOut(ctx, packed)
	if err != nil {
		t.Fatalf("copyOut of empty string: %v", err)
	}
	if ret == nil || *ret != "" {
		t.Fatalf("empty string round trip = %v, want empty string", ret)
	}

	// Packed zero is the null return.
	ret, err = bnd.copyOut(ctx, 0)
	if err != nil {
		t.Fatalf("copyOut(0): %v", err)
	}
	if ret != nil {
		t.Fatalf("copyOut(0) = %q, want nil", *ret)
	}
}
