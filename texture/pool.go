package texture

import (
	"fmt"
	"sync"

	"github.com/gogpu/qsim/codec"
)

// Key identifies interchangeable storage: physical size and pixel format.
type Key struct {
	Width  int
	Height int
	Format codec.PixelFormat
}

// String returns a short description of the key.
func (k Key) String() string {
	return fmt.Sprintf("%dx%d %v", k.Width, k.Height, k.Format)
}

// PoolStats contains pool usage statistics.
type PoolStats struct {
	// Live is the number of handles currently taken.
	Live int

	// Free is the number of released slots waiting for reuse.
	Free int

	// Allocated is the total number of slots ever created.
	Allocated uint64

	// Reused is the number of Take calls served from the free lists.
	Reused uint64

	// LiveBytes is the host storage held by live handles.
	LiveBytes uint64
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("Pool[%d live, %d free, %d allocated, %d reused, %d KB live]",
		s.Live, s.Free, s.Allocated, s.Reused, s.LiveBytes/1024)
}

// Pool recycles texture storage keyed by physical size and format.
//
// Pool is safe for concurrent use. Handles it issues are not.
type Pool struct {
	mu        sync.Mutex
	free      map[Key][]*slot
	live      int
	liveBytes uint64
	allocated uint64
	reused    uint64
	gen       uint64
	drop      func(device any)
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{free: make(map[Key][]*slot)}
}

// SetDropFunc registers fn to destroy device resources of slots discarded
// by Drain.
func (p *Pool) SetDropFunc(fn func(device any)) {
	p.mu.Lock()
	p.drop = fn
	p.mu.Unlock()
}

// Take issues a texture of width×height cells of arity a stored with codec c.
// Host pixels of the returned texture are zero.
func (p *Pool) Take(width, height int, a codec.Arity, c codec.Codec) (*Texture, error) {
	if err := checkDims(width, height); err != nil {
		return nil, err
	}
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", codec.ErrArity, int(a))
	}
	ppv := c.PixelsPerValue(a)
	key := Key{Width: width * ppv, Height: height, Format: c.Format()}

	p.mu.Lock()
	var s *slot
	if list := p.free[key]; len(list) > 0 {
		s = list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.reused++
		clear(s.pixels)
	} else {
		s = &slot{key: key, pixels: make([]byte, key.Width*key.Height*key.Format.BytesPerPixel())}
		p.allocated++
	}
	p.gen++
	s.gen = p.gen
	s.residency = ResidentHost
	p.live++
	p.liveBytes += uint64(len(s.pixels))
	p.mu.Unlock()

	return &Texture{
		pool:   p,
		slot:   s,
		gen:    s.gen,
		width:  width,
		height: height,
		arity:  a,
		format: key.Format,
		ppv:    ppv,
	}, nil
}

// TakeBits issues a texture of 2^n cells using the default grid split.
func (p *Pool) TakeBits(n int, a codec.Arity, c codec.Codec) (*Texture, error) {
	if n < 0 || n > MaxIndexBits {
		return nil, fmt.Errorf("%w: %d index bits, max %d", ErrCapacity, n, MaxIndexBits)
	}
	w, h := Split(n)
	return p.Take(w, h, a, c)
}

// TakeLike issues a texture with the same grid and arity as t.
func (p *Pool) TakeLike(t *Texture, c codec.Codec) (*Texture, error) {
	return p.Take(t.width, t.height, t.arity, c)
}

func (p *Pool) put(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.gen = 0
	p.live--
	p.liveBytes -= uint64(len(s.pixels))
	p.free[s.key] = append(p.free[s.key], s)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, list := range p.free {
		free += len(list)
	}
	return PoolStats{
		Live:      p.live,
		Free:      free,
		Allocated: p.allocated,
		Reused:    p.reused,
		LiveBytes: p.liveBytes,
	}
}

// Drain discards every free slot, destroying attached device resources.
// Live handles are unaffected.
func (p *Pool) Drain() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[Key][]*slot)
	drop := p.drop
	p.mu.Unlock()

	if drop == nil {
		return
	}
	for _, list := range free {
		for _, s := range list {
			if s.device != nil {
				drop(s.device)
				s.device = nil
			}
		}
	}
}
