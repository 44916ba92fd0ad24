// Package qsim simulates multi-qubit state vectors stored in 2D buffers and
// evolved by data-parallel kernels.
//
// # Overview
//
// The state of n qubits is a buffer of 2^n complex amplitudes. Every
// operation (a controlled single-qubit unitary, a controlled swap) runs one
// kernel that reads the current buffer and writes a new one; results such
// as probabilities, per-qubit densities, conditional probabilities and
// subset density matrices are further kernels over the state.
//
// # Quick Start
//
//	import "github.com/gogpu/qsim"
//
//	e, err := qsim.New(2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	// Bell pair
//	err = e.Run(
//	    qsim.Gate(qsim.Hadamard(), 0),
//	    qsim.Controlled(qsim.PauliX(), 1, control.On(0)),
//	)
//	probs, err := e.Probabilities() // [0.5 0 0 0.5]
//
// # Backends
//
// Kernels are WGSL compute programs that also carry a host evaluation. The
// CPU runner evaluates the host version on a worker pool. Importing the gpu
// package registers a wgpu accelerator that compiles the WGSL and dispatches
// it on the device:
//
//	import _ "github.com/gogpu/qsim/gpu"
//
// BackendAuto, the default, picks the accelerator when one is registered.
//
// # Codecs
//
// Buffers hold values either as RGBA32F pixels (codec.FloatCodec) or as one
// RGBA8 pixel per scalar (codec.ByteCodec) for devices without float
// storage. The engine selects the byte codec automatically when the
// accelerator reports no float storage; WithCodec overrides the choice.
//
// # Logging
//
// qsim is silent by default. SetLogger enables structured logging through
// log/slog for the engine, the kernel library and the accelerator.
//
// # Sub-packages
//
//   - codec: value encodings and WGSL read/write fragments
//   - control: control masks and bit scatter helpers
//   - texture: pooled, generation-checked buffers and index addressing
//   - kernel: the kernel programs, runners and library
//   - gpu: GPU accelerator registration
package qsim
