//go:build !nogpu

// Package gpu runs kernel invocations on a wgpu/hal device.
//
// Every texture handle is backed by a storage buffer attached to its pooled
// slot, so buffers follow the pool's reuse. Host pixels are uploaded lazily
// when an invocation reads a buffer whose device copy is stale, and device
// results are copied back through a staging buffer only when the host
// syncs. Kernel WGSL is compiled to SPIR-V with naga and the resulting
// compute pipelines are cached by source.
package gpu
