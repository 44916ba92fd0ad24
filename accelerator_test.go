package qsim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

// mockAccelerator implements GPUAccelerator for testing. It evaluates
// invocations with a CPU runner and records what the engine asks of it.
type mockAccelerator struct {
	name         string
	initErr      error
	floatStorage bool
	providerErr  error

	mu       sync.Mutex
	closed   bool
	runs     int
	syncs    int
	dropped  int
	provider any
	logger   *slog.Logger
	cpu      map[codec.Tag]*kernel.CPURunner
}

func (m *mockAccelerator) Name() string { return m.name }

func (m *mockAccelerator) Init() error { return m.initErr }

func (m *mockAccelerator) FloatStorage() bool { return m.floatStorage }

func (m *mockAccelerator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, r := range m.cpu {
		r.Close()
	}
	m.cpu = nil
}

func (m *mockAccelerator) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockAccelerator) Run(inv *kernel.Invocation) error {
	m.mu.Lock()
	m.runs++
	if m.cpu == nil {
		m.cpu = make(map[codec.Tag]*kernel.CPURunner)
	}
	tag := codec.TagFloat
	if inv.Output.Format() == codec.FormatRGBA8 {
		tag = codec.TagByte
	}
	r := m.cpu[tag]
	if r == nil {
		c, _ := codec.New(tag)
		r = kernel.NewCPURunner(c, 2)
		m.cpu[tag] = r
	}
	m.mu.Unlock()
	if err := r.Run(inv); err != nil {
		return err
	}
	// Mark the slot so pool drains report it to Drop.
	return inv.Output.SetDevice(m.name)
}

func (m *mockAccelerator) Sync(t *texture.Texture) error {
	m.mu.Lock()
	m.syncs++
	m.mu.Unlock()
	return t.Check()
}

func (m *mockAccelerator) Drop(any) {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *mockAccelerator) SetDeviceProvider(provider any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.providerErr != nil {
		return m.providerErr
	}
	m.provider = provider
	return nil
}

func (m *mockAccelerator) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *mockAccelerator) counts() (runs, syncs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, m.syncs
}

// resetAccelerator clears the global accelerator state between tests.
func resetAccelerator() {
	accelMu.Lock()
	a := accel
	accel = nil
	accelMu.Unlock()
	if a != nil {
		a.Close()
	}
}

func TestRegisterAcceleratorNil(t *testing.T) {
	resetAccelerator()

	err := RegisterAccelerator(nil)
	if err == nil {
		t.Fatal("expected error when registering nil accelerator")
	}
	if err.Error() != "qsim: accelerator must not be nil" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if Accelerator() != nil {
		t.Error("accelerator should remain nil after failed registration")
	}
}

func TestRegisterAcceleratorInitError(t *testing.T) {
	resetAccelerator()

	initErr := errors.New("GPU init failed")
	mock := &mockAccelerator{name: "failing", initErr: initErr}

	err := RegisterAccelerator(mock)
	if !errors.Is(err, initErr) {
		t.Errorf("RegisterAccelerator() = %v, want %v", err, initErr)
	}
	if Accelerator() != nil {
		t.Error("accelerator should remain nil after Init failure")
	}
}

func TestRegisterAcceleratorReplacesOld(t *testing.T) {
	resetAccelerator()
	t.Cleanup(resetAccelerator)

	first := &mockAccelerator{name: "first"}
	second := &mockAccelerator{name: "second"}

	if err := RegisterAccelerator(first); err != nil {
		t.Fatalf("RegisterAccelerator(first) = %v", err)
	}
	if err := RegisterAccelerator(second); err != nil {
		t.Fatalf("RegisterAccelerator(second) = %v", err)
	}

	if !first.isClosed() {
		t.Error("expected first accelerator to be closed after replacement")
	}
	if second.isClosed() {
		t.Error("second accelerator should not be closed")
	}
	if a := Accelerator(); a == nil || a.Name() != "second" {
		t.Errorf("Accelerator() = %v, want second", a)
	}
}

func TestAcceleratorReturnsNilWhenNoneRegistered(t *testing.T) {
	resetAccelerator()

	if a := Accelerator(); a != nil {
		t.Errorf("expected nil accelerator, got %v", a)
	}
}

func TestSetAcceleratorDeviceProvider(t *testing.T) {
	resetAccelerator()
	t.Cleanup(resetAccelerator)

	if err := SetAcceleratorDeviceProvider(&mockProvider{}); err != nil {
		t.Errorf("SetAcceleratorDeviceProvider() without accelerator = %v, want nil", err)
	}

	mock := &mockAccelerator{name: "shared", floatStorage: true}
	if err := RegisterAccelerator(mock); err != nil {
		t.Fatalf("RegisterAccelerator() = %v", err)
	}
	p := &mockProvider{}
	if err := SetAcceleratorDeviceProvider(p); err != nil {
		t.Fatalf("SetAcceleratorDeviceProvider() = %v", err)
	}
	if mock.provider != p {
		t.Error("provider was not passed to the accelerator")
	}
}

func TestFallbackRunnerSyncFailure(t *testing.T) {
	syncErr := errors.New("device lost")
	acc := &failingSyncAccelerator{mockAccelerator: &mockAccelerator{name: "lost"}, err: syncErr}
	r := &fallbackRunner{gpu: acc, cpu: kernel.NewCPURunner(codec.FloatCodec{}, 1)}
	defer r.Close()

	l, err := kernel.NewLibrary(kernel.Config{Codec: codec.FloatCodec{}})
	if err != nil {
		t.Fatalf("NewLibrary() = %v", err)
	}
	defer l.Close()
	state, err := l.ClassicalState(1, 0)
	if err != nil {
		t.Fatalf("ClassicalState() = %v", err)
	}
	defer state.Release()

	// Route the library through the fallback runner.
	fl, err := kernel.NewLibrary(kernel.Config{Codec: codec.FloatCodec{}, Pool: l.Pool(), Runner: r})
	if err != nil {
		t.Fatalf("NewLibrary() = %v", err)
	}
	defer fl.Close()

	_, err = fl.Probabilities(state)
	if !errors.Is(err, syncErr) || !errors.Is(err, ErrFallbackToCPU) {
		t.Errorf("Probabilities() = %v, want both the rejection and the sync failure", err)
	}
	if r.fallbacks != 0 {
		t.Errorf("fallbacks = %d, want 0 when inputs cannot be synced", r.fallbacks)
	}
	if live := l.Pool().Stats().Live; live != 1 {
		t.Errorf("Live = %d, want 1: the failed output is released", live)
	}
}

// failingSyncAccelerator rejects every invocation and cannot sync.
type failingSyncAccelerator struct {
	*mockAccelerator
	err error
}

func (a *failingSyncAccelerator) Run(inv *kernel.Invocation) error {
	return fmt.Errorf("%s: %w", inv.Program.Name, ErrFallbackToCPU)
}

func (a *failingSyncAccelerator) Sync(*texture.Texture) error { return a.err }

func BenchmarkAcceleratorNilCheck(b *testing.B) {
	resetAccelerator()

	b.ReportAllocs()
	for b.Loop() {
		if Accelerator() != nil {
			b.Fatal("should be nil")
		}
	}
}
