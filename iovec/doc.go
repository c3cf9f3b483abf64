// Package iovec encodes, decodes and hashes captured execution contexts.
//
// # Overview
//
// An execution context (an "iovec") is the tracer's snapshot of one run of
// a function: seven register values, the return-value byte, the memory areas
// the arguments pointed at, and the set of syscalls the run made. Contexts
// are the probes of the identification forest: one is injected into a target
// function, and whether the function accepts it is a single decision-tree
// feature test.
//
// # Wire Layout
//
// Contexts use the tracer's native x86-64 layout, little-endian:
//
//	[7 x u64 registers] [u8 return value]
//	[AllocatedArea for each non-final register equal to AllocatedAreaMagic]
//	[u64 syscall count] [count x u64 syscall numbers]
//
// Decode followed by Encode reproduces the input byte for byte. The only
// normalization is that syscall numbers are sorted on decode; streams
// produced by the tracer are already sorted.
//
// # Identity
//
// Two contexts are equal when their content hashes are equal. This is the
// identity the training pipeline used to key its maps, so it must not be
// replaced by a field-wise comparison: two different contexts with colliding
// hashes are treated as the same probe. StrictEqual exists for tests and
// debugging only.
package iovec
