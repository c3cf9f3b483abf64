package forest

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/joshuapare/binsleuth/artifact"
	"github.com/joshuapare/binsleuth/internal/metrics"
	"github.com/joshuapare/binsleuth/iovec"
	"github.com/joshuapare/binsleuth/pkg/types"
)

type treeEntry struct {
	base   NodeIndex
	tree   Tree
	labels *LabelEncoder
	descs  artifact.DescriptorMap
	probes artifact.ProbeMap
}

// Forest is an ordered set of trees sharing one index space.
type Forest struct {
	trees     []treeEntry // ascending base
	grafts    map[NodeIndex]NodeIndex
	funcDescs map[uint64]types.DescriptorEntry

	classifier Classifier
	newSession SessionFactory
	log        *slog.Logger
	metrics    metrics.Recorder
}

// Option configures a Forest.
type Option func(*Forest)

// WithClassifier replaces the CART learner.
func WithClassifier(c Classifier) Option { return func(f *Forest) { f.classifier = c } }

// WithLogger sets the logger; runs derive child loggers from it.
func WithLogger(l *slog.Logger) Option { return func(f *Forest) { f.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(r metrics.Recorder) Option { return func(f *Forest) { f.metrics = r } }

// WithSessionFactory replaces how Identify creates tracer sessions.
func WithSessionFactory(fn SessionFactory) Option { return func(f *Forest) { f.newSession = fn } }

// New returns an empty forest.
func New(opts ...Option) *Forest {
	f := &Forest{
		grafts:     make(map[NodeIndex]NodeIndex),
		funcDescs:  make(map[uint64]types.DescriptorEntry),
		classifier: CART{},
		newSession: NewSession,
		log:        slog.New(slog.DiscardHandler),
		metrics:    metrics.Prometheus{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddTree loads a descriptor map and a probe map and appends the tree
// trained from them. A missing file fails with types.ErrNotFound. On any
// error the forest is left as it was.
func (f *Forest) AddTree(descPath, probePath string) error {
	desc, err := artifact.LoadDescriptorMap(descPath)
	if err != nil {
		return err
	}
	probes, err := artifact.LoadProbeMap(probePath)
	if err != nil {
		return err
	}
	if err := f.AddTreeFromMaps(desc, probes); err != nil {
		return fmt.Errorf("add tree from %s: %w", descPath, err)
	}
	return nil
}

// AddTreeFromMaps trains a tree over desc and appends it at index Size().
// Each function becomes one sample whose feature i is set when it accepted
// the probe with label i.
func (f *Forest) AddTreeFromMaps(desc artifact.DescriptorMap, probes artifact.ProbeMap) error {
	labels := NewLabelEncoder(desc.Hashes())
	if labels.Len() == 0 {
		return types.Errorf(types.ErrKindFormat, "descriptor map has no probes")
	}

	var keys []uint64
	rows := make(map[uint64][]bool)
	entries := make(map[uint64]types.DescriptorEntry)
	for id, h := range labels.Classes() {
		for _, e := range desc[h] {
			k := e.Desc.Key()
			row, ok := rows[k]
			if !ok {
				row = make([]bool, labels.Len())
				rows[k] = row
				entries[k] = e
				keys = append(keys, k)
			}
			row[id] = true
		}
	}
	if len(keys) == 0 {
		return types.Errorf(types.ErrKindFormat, "descriptor map names no functions")
	}
	features := make([][]bool, len(keys))
	for i, k := range keys {
		features[i] = rows[k]
	}

	tree, err := f.classifier.Fit(features, keys)
	if err != nil {
		return fmt.Errorf("fit tree: %w", err)
	}
	if err := checkTree(tree, labels.Len()); err != nil {
		return err
	}

	base := NodeIndex(f.Size())
	f.trees = append(f.trees, treeEntry{
		base:   base,
		tree:   tree,
		labels: labels,
		descs:  desc,
		probes: probes,
	})
	for k, e := range entries {
		f.funcDescs[k] = e
	}
	f.log.Info("tree added", "base", int(base), "nodes", tree.NodeCount(),
		"probes", labels.Len(), "functions", len(keys))
	return nil
}

// checkTree rejects trees whose arrays the forest could not address safely.
func checkTree(t Tree, nlabels int) error {
	n := t.NodeCount()
	if n <= 0 {
		return types.Errorf(types.ErrKindFormat, "tree has %d nodes", n)
	}
	left, right, feat := t.ChildrenLeft(), t.ChildrenRight(), t.Feature()
	if len(left) != n || len(right) != n || len(feat) != n {
		return types.Errorf(types.ErrKindFormat, "tree arrays do not match %d nodes", n)
	}
	for i := 0; i < n; i++ {
		if left[i] >= n || right[i] >= n {
			return types.Errorf(types.ErrKindFormat, "node %d: child out of range", i)
		}
		if left[i] != right[i] && (left[i] <= i || right[i] <= i) {
			return types.Errorf(types.ErrKindFormat, "node %d: children must follow their parent", i)
		}
		if left[i] != right[i] && (feat[i] < 0 || feat[i] >= nlabels) {
			return types.Errorf(types.ErrKindFormat, "node %d: feature %d out of range", i, feat[i])
		}
	}
	return nil
}

// Size is the number of nodes across all trees.
func (f *Forest) Size() int {
	n := 0
	for _, e := range f.trees {
		n += e.tree.NodeCount()
	}
	return n
}

// TreeCount is the number of trees added.
func (f *Forest) TreeCount() int { return len(f.trees) }

// owner finds the tree holding i and i's offset inside it.
func (f *Forest) owner(i NodeIndex) (*treeEntry, int, error) {
	for k := len(f.trees) - 1; k >= 0; k-- {
		e := &f.trees[k]
		if i < e.base {
			continue
		}
		if off := int(i - e.base); off < e.tree.NodeCount() {
			return e, off, nil
		}
		break
	}
	return nil, 0, types.Errorf(types.ErrKindInvalidIndex, "node %d not in forest of %d nodes", i, f.Size())
}

func (f *Forest) child(i NodeIndex, right bool) (NodeIndex, error) {
	if i < 0 {
		return Unknown, types.Errorf(types.ErrKindInvalidIndex, "node %d", i)
	}
	if g, ok := f.grafts[i]; ok {
		return g, nil
	}
	e, off, err := f.owner(i)
	if err != nil {
		return Unknown, err
	}
	c := e.tree.ChildrenLeft()[off]
	if right {
		c = e.tree.ChildrenRight()[off]
	}
	if c < 0 {
		return Unknown, nil
	}
	return e.base + NodeIndex(c), nil
}

// LeftChild returns the node reached when i's probe is rejected.
func (f *Forest) LeftChild(i NodeIndex) (NodeIndex, error) { return f.child(i, false) }

// RightChild returns the node reached when i's probe is accepted.
func (f *Forest) RightChild(i NodeIndex) (NodeIndex, error) { return f.child(i, true) }

// IsLeaf reports whether both children of i are the same. Negative indices
// count as leaves so a walk that fell off the tree stops.
func (f *Forest) IsLeaf(i NodeIndex) (bool, error) {
	if i < 0 {
		return true, nil
	}
	l, err := f.LeftChild(i)
	if err != nil {
		return false, err
	}
	r, err := f.RightChild(i)
	if err != nil {
		return false, err
	}
	return l == r, nil
}

// Graft continues leaf into child, the node of a later tree. Both children of
// leaf then resolve to child, so it stays a leaf with its own classes while
// Identify walks on into child.
func (f *Forest) Graft(leaf, child NodeIndex) error {
	le, _, err := f.owner(leaf)
	if err != nil {
		return err
	}
	ce, _, err := f.owner(child)
	if err != nil {
		return err
	}
	if _, ok := f.grafts[leaf]; ok {
		return types.Errorf(types.ErrKindInvalidIndex, "node %d is already grafted", leaf)
	}
	if ok, err := f.IsLeaf(leaf); err != nil {
		return err
	} else if !ok {
		return types.Errorf(types.ErrKindNotALeaf, "graft onto node %d", leaf)
	}
	if ce.base <= le.base {
		return types.Errorf(types.ErrKindInvalidIndex, "graft %d -> %d: child must belong to a later tree", leaf, child)
	}
	f.grafts[leaf] = child
	return nil
}

// EquivClasses returns the functions the leaf at i could be, ordered by
// descriptor key. Unknown has none.
func (f *Forest) EquivClasses(i NodeIndex) ([]types.DescriptorEntry, error) {
	if i == Unknown {
		return nil, nil
	}
	if i < 0 {
		return nil, types.Errorf(types.ErrKindInvalidIndex, "node %d", i)
	}
	leaf, err := f.IsLeaf(i)
	if err != nil {
		return nil, err
	}
	if !leaf {
		return nil, types.Errorf(types.ErrKindNotALeaf, "node %d", i)
	}
	e, off, err := f.owner(i)
	if err != nil {
		return nil, err
	}
	classes := e.tree.Classes()
	var out []types.DescriptorEntry
	for c, w := range e.tree.Value(off) {
		if w == 0 || c >= len(classes) {
			continue
		}
		if d, ok := f.funcDescs[classes[c]]; ok {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b types.DescriptorEntry) int {
		return cmp.Compare(a.Desc.Key(), b.Desc.Key())
	})
	return out, nil
}

// AllEquivClasses returns the classes of every leaf in index order.
func (f *Forest) AllEquivClasses() [][]types.DescriptorEntry {
	var out [][]types.DescriptorEntry
	for i := NodeIndex(0); int(i) < f.Size(); i++ {
		if ec, err := f.EquivClasses(i); err == nil {
			out = append(out, ec)
		}
	}
	return out
}

// FuncDescs returns every function known to the forest, ordered by key.
func (f *Forest) FuncDescs() []types.DescriptorEntry {
	keys := make([]uint64, 0, len(f.funcDescs))
	for k := range f.funcDescs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]types.DescriptorEntry, len(keys))
	for i, k := range keys {
		out[i] = f.funcDescs[k]
	}
	return out
}

// FeatureHash returns the behavior hash tested at internal node i.
func (f *Forest) FeatureHash(i NodeIndex) (uint64, bool) {
	if leaf, err := f.IsLeaf(i); err != nil || leaf {
		return 0, false
	}
	e, off, err := f.owner(i)
	if err != nil {
		return 0, false
	}
	return e.labels.Inverse(e.tree.Feature()[off])
}

// Iovec returns the probe context tested at internal node i, or nil when i
// is not an internal node or its tree has no context for the hash.
func (f *Forest) Iovec(i NodeIndex) *iovec.Context {
	h, ok := f.FeatureHash(i)
	if !ok {
		return nil
	}
	e, _, err := f.owner(i)
	if err != nil {
		return nil
	}
	return e.probes[h]
}

// TreeStats describes one tree.
type TreeStats struct {
	Base      NodeIndex
	Nodes     int
	Leaves    int
	Labels    int
	Probes    int
	Functions int
}

// Stats summarizes the forest.
type Stats struct {
	Trees     []TreeStats
	Nodes     int
	Leaves    int
	Functions int
	Grafts    int
}

// Stats walks every tree once.
func (f *Forest) Stats() Stats {
	s := Stats{Functions: len(f.funcDescs), Grafts: len(f.grafts)}
	for _, e := range f.trees {
		ts := TreeStats{
			Base:      e.base,
			Nodes:     e.tree.NodeCount(),
			Labels:    e.labels.Len(),
			Probes:    len(e.probes),
			Functions: len(e.tree.Classes()),
		}
		left, right := e.tree.ChildrenLeft(), e.tree.ChildrenRight()
		for n := 0; n < ts.Nodes; n++ {
			if left[n] == right[n] {
				ts.Leaves++
			}
		}
		s.Trees = append(s.Trees, ts)
		s.Nodes += ts.Nodes
		s.Leaves += ts.Leaves
	}
	return s
}
