package texture

import (
	"errors"
	"testing"

	"github.com/gogpu/qsim/codec"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		n, w, h int
	}{
		{0, 1, 1},
		{1, 2, 1},
		{2, 2, 2},
		{3, 4, 2},
		{4, 4, 4},
		{7, 16, 8},
	}
	for _, tt := range tests {
		w, h := Split(tt.n)
		if w != tt.w || h != tt.h {
			t.Errorf("Split(%d) = %dx%d, want %dx%d", tt.n, w, h, tt.w, tt.h)
		}
	}
}

func TestBitArg(t *testing.T) {
	tests := []struct {
		value uint32
		width int
		want  Offset
	}{
		{1, 4, Offset{DX: 1}},
		{2, 4, Offset{DX: 2}},
		{4, 4, Offset{DY: 1}},
		{16, 4, Offset{DY: 4}},
		{1, 1, Offset{DY: 1}},
	}
	for _, tt := range tests {
		if got := BitArg(tt.value, tt.width); got != tt.want {
			t.Errorf("BitArg(%d, %d) = %+v, want %+v", tt.value, tt.width, got, tt.want)
		}
	}
}

func TestBitArgMatchesIndexArithmetic(t *testing.T) {
	p := NewPool()
	tex, err := p.TakeBits(5, codec.Vec2, codec.FloatCodec{})
	if err != nil {
		t.Fatalf("TakeBits() error = %v", err)
	}
	for q := 0; q < 5; q++ {
		off := BitArg(1<<q, tex.Width())
		for k := 0; k < tex.Size(); k++ {
			if k&(1<<q) != 0 {
				continue
			}
			x, y := tex.Coord(k)
			got := tex.Index(x+int(off.DX), y+int(off.DY))
			if got != k|1<<q {
				t.Fatalf("qubit %d: partner of %d = %d, want %d", q, k, got, k|1<<q)
			}
		}
	}
}

func TestCeilPow2(t *testing.T) {
	for n, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 5: 8, 8: 8, 9: 16} {
		if got := CeilPow2(n); got != want {
			t.Errorf("CeilPow2(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestPoolTakeGeometry(t *testing.T) {
	p := NewPool()
	tests := []struct {
		name      string
		c         codec.Codec
		a         codec.Arity
		physWidth int
		bytes     int
	}{
		{"float vec2", codec.FloatCodec{}, codec.Vec2, 4, 4 * 2 * 16},
		{"byte scalar", codec.ByteCodec{}, codec.Scalar, 4, 4 * 2 * 4},
		{"byte vec4", codec.ByteCodec{}, codec.Vec4, 16, 16 * 2 * 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tex, err := p.Take(4, 2, tt.a, tt.c)
			if err != nil {
				t.Fatalf("Take() error = %v", err)
			}
			if tex.PhysWidth() != tt.physWidth {
				t.Errorf("PhysWidth() = %d, want %d", tex.PhysWidth(), tt.physWidth)
			}
			if tex.ByteSize() != tt.bytes {
				t.Errorf("ByteSize() = %d, want %d", tex.ByteSize(), tt.bytes)
			}
			if tex.Bits() != 3 {
				t.Errorf("Bits() = %d, want 3", tex.Bits())
			}
		})
	}
}

func TestPoolRejectsBadSizes(t *testing.T) {
	p := NewPool()
	if _, err := p.Take(3, 2, codec.Scalar, codec.FloatCodec{}); !errors.Is(err, ErrSize) {
		t.Errorf("Take(3x2) error = %v, want ErrSize", err)
	}
	if _, err := p.Take(1<<16, 1<<15, codec.Scalar, codec.FloatCodec{}); !errors.Is(err, ErrCapacity) {
		t.Errorf("Take(2^31 cells) error = %v, want ErrCapacity", err)
	}
	if _, err := p.TakeBits(MaxIndexBits+1, codec.Scalar, codec.FloatCodec{}); !errors.Is(err, ErrCapacity) {
		t.Errorf("TakeBits(31) error = %v, want ErrCapacity", err)
	}
	if _, err := p.Take(2, 2, codec.Arity(3), codec.FloatCodec{}); !errors.Is(err, codec.ErrArity) {
		t.Errorf("Take(arity 3) error = %v, want ErrArity", err)
	}
}

func TestPoolReuseAndRelease(t *testing.T) {
	p := NewPool()
	a, err := p.TakeBits(4, codec.Vec2, codec.FloatCodec{})
	if err != nil {
		t.Fatalf("TakeBits() error = %v", err)
	}
	px, _ := a.Pixels()
	px[0] = 7
	if err := a.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	b, err := p.TakeBits(4, codec.Vec2, codec.FloatCodec{})
	if err != nil {
		t.Fatalf("TakeBits() error = %v", err)
	}
	st := p.Stats()
	if st.Allocated != 1 || st.Reused != 1 || st.Live != 1 {
		t.Errorf("Stats() = %v, want 1 allocated, 1 reused, 1 live", st)
	}
	px, _ = b.Pixels()
	if px[0] != 0 {
		t.Errorf("reused texture not cleared: px[0] = %d", px[0])
	}

	// The stale handle must not reach the storage now owned by b.
	if _, err := a.Pixels(); !errors.Is(err, ErrReleased) {
		t.Errorf("Pixels() after release error = %v, want ErrReleased", err)
	}
	if err := a.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("double Release() error = %v, want ErrReleased", err)
	}
	if err := a.SetPixels(make([]byte, a.ByteSize())); !errors.Is(err, ErrReleased) {
		t.Errorf("SetPixels() after release error = %v, want ErrReleased", err)
	}
}

func TestPoolKeysByFormat(t *testing.T) {
	p := NewPool()
	a, _ := p.Take(4, 1, codec.Scalar, codec.FloatCodec{})
	_ = a.Release()
	// Same physical width, different format: must not reuse.
	b, _ := p.Take(4, 1, codec.Scalar, codec.ByteCodec{})
	if st := p.Stats(); st.Reused != 0 || st.Allocated != 2 {
		t.Errorf("Stats() = %v, want no reuse across formats", st)
	}
	if b.Format() != codec.FormatRGBA8 {
		t.Errorf("Format() = %v, want RGBA8", b.Format())
	}
}

func TestPoolDrainDropsDevice(t *testing.T) {
	p := NewPool()
	var dropped []any
	p.SetDropFunc(func(d any) { dropped = append(dropped, d) })

	a, _ := p.TakeBits(2, codec.Scalar, codec.FloatCodec{})
	if err := a.SetDevice("buf-a"); err != nil {
		t.Fatalf("SetDevice() error = %v", err)
	}
	live, _ := p.TakeBits(2, codec.Scalar, codec.FloatCodec{})
	_ = live.SetDevice("buf-live")
	_ = a.Release()

	p.Drain()
	if len(dropped) != 1 || dropped[0] != "buf-a" {
		t.Errorf("dropped = %v, want [buf-a]", dropped)
	}
	if st := p.Stats(); st.Free != 0 || st.Live != 1 {
		t.Errorf("Stats() after Drain = %v", st)
	}
}

func TestSetPixelsLength(t *testing.T) {
	p := NewPool()
	tex, _ := p.TakeBits(1, codec.Scalar, codec.FloatCodec{})
	if err := tex.SetPixels([]byte{1, 2, 3}); !errors.Is(err, ErrSize) {
		t.Errorf("SetPixels(short) error = %v, want ErrSize", err)
	}
	_ = tex.SetResidency(ResidentDevice)
	if err := tex.SetPixels(make([]byte, tex.ByteSize())); err != nil {
		t.Fatalf("SetPixels() error = %v", err)
	}
	if tex.Residency() != ResidentHost {
		t.Errorf("Residency() = %v, want host only", tex.Residency())
	}
}
