package qsim

import (
	"errors"

	"github.com/gogpu/qsim/control"
	"github.com/gogpu/qsim/kernel"
	"github.com/gogpu/qsim/texture"
)

var (
	// ErrNoAccelerator is returned by New with BackendGPU when no GPU
	// accelerator is registered.
	ErrNoAccelerator = errors.New("qsim: no GPU accelerator registered")

	// ErrInvalidOption is returned for out-of-range engine options.
	ErrInvalidOption = errors.New("qsim: invalid option")

	// ErrClosed is returned by every method of a closed engine.
	ErrClosed = errors.New("qsim: engine is closed")
)

// IsConfiguration reports whether err is a configuration error: mismatched
// formats or arities, invalid masks, out-of-range qubits or offsets, a
// non-partitioning qubit set, or an invalid option.
func IsConfiguration(err error) bool {
	return errors.Is(err, kernel.ErrConfiguration) || errors.Is(err, ErrInvalidOption)
}

// IsCapacity reports whether err is a capacity error: a state wider than
// the mask kernels or the buffers can address.
func IsCapacity(err error) bool {
	return errors.Is(err, control.ErrCapacity) || errors.Is(err, texture.ErrCapacity)
}
