package iovec

// FNV-1a 64-bit constants. The fold is order sensitive: combine(combine(s, a), b)
// differs from combine(combine(s, b), a) for a != b.
const (
	hashSeed  uint64 = 14695981039346656037
	hashPrime uint64 = 1099511628211
)

// combine mixes the eight bytes of v into acc, low byte first.
func combine(acc, v uint64) uint64 {
	for i := 0; i < 8; i++ {
		acc ^= (v >> (8 * i)) & 0xff
		acc *= hashPrime
	}
	return acc
}

// Hash folds the register values, then the area hashes, then the sorted
// syscall numbers. The result is the context's identity: the training
// artifacts key probes by it.
func (c *Context) Hash() uint64 {
	h := hashSeed
	for _, r := range c.registers {
		h = combine(h, r)
	}
	for _, a := range c.areas {
		h = combine(h, a.Hash())
	}
	for _, s := range c.syscalls {
		h = combine(h, s)
	}
	return h
}
