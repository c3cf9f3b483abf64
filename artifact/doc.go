// Package artifact loads and writes the two training artifacts a forest tree
// is built from.
//
// A descriptor map records, for every behavior hash, the functions that
// accepted that probe during training. It is YAML so it can be inspected and
// diffed:
//
//	version: 1
//	probes:
//	  - hash: "9f1c2a7de0b34c11"
//	    accepted_by:
//	      - desc: {name: memcpy, location: 4198400, binary: /lib/libc.so.6}
//	        coverage: 0.82
//
// A probe map holds the reference context for every behavior hash. It is
// binary: a 16-byte header ('BSPM', version, count) followed by the encoded
// contexts back to back. Keys are not stored; a context's key is its own
// content hash.
package artifact
