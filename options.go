package qsim

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/qsim/codec"
)

// Option configures an Engine during creation.
//
// Example:
//
//	// CPU execution with byte-packed buffers on four workers
//	e, err := qsim.New(10,
//	    qsim.WithBackend(qsim.BackendCPU),
//	    qsim.WithCodec(codec.TagByte),
//	    qsim.WithWorkers(4))
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	backend   BackendMode
	codec     codec.Tag
	codecSet  bool
	workers   int
	provider  gpucontext.DeviceProvider
	cacheSize int
}

func defaultOptions() options {
	return options{
		backend:   BackendAuto,
		cacheSize: 0, // kernel.DefaultDensityCacheSize
	}
}

// WithBackend selects where kernels execute. The default is BackendAuto.
func WithBackend(m BackendMode) Option {
	return func(o *options) {
		o.backend = m
	}
}

// WithCodec forces the value codec. By default an engine uses the float
// codec unless the GPU accelerator cannot store float buffers.
func WithCodec(t codec.Tag) Option {
	return func(o *options) {
		o.codec = t
		o.codecSet = true
	}
}

// WithWorkers sets the number of CPU runner workers.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithDeviceProvider shares the host application's GPU device with the
// accelerator before the engine starts.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithProgramCacheSize bounds the number of specialized density-matrix
// programs kept by the engine.
func WithProgramCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}
