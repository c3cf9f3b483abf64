// Package forest identifies unknown binary functions by walking a forest of
// decision trees whose features are probe contexts.
//
// Every tree is trained from one descriptor map (which functions accepted
// which probe) and one probe map (the context behind each probe). Trees are
// appended to a single global index space: the k-th tree's nodes start at the
// sum of the node counts of the trees before it, so a NodeIndex addresses a
// node anywhere in the forest.
//
// Identify drives a tracer session down the forest. At an internal node it
// injects the node's probe and executes the target; acceptance goes right,
// rejection left. At a leaf it runs a short confirmation pass with the most
// discriminative probes recorded for the leaf's candidate functions.
//
// A Forest is built by AddTree calls and then only read. Concurrent Identify
// calls are safe as long as no AddTree or Graft runs alongside them; each
// call owns its own tracer process.
package forest
