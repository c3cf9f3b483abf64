package forest

import (
	"slices"

	"github.com/joshuapare/binsleuth/internal/cart"
)

// NodeIndex addresses a node across the whole forest.
type NodeIndex int

// Unknown is the result of an identification that resolved nowhere.
const Unknown NodeIndex = -1

// Tree is a trained binary decision tree stored as parallel arrays. A node
// whose children are equal is a leaf; negative children mean none.
type Tree interface {
	NodeCount() int
	ChildrenLeft() []int
	ChildrenRight() []int
	// Feature is the label id tested at each internal node.
	Feature() []int
	// Value is the per-class weight at node, indexed like Classes.
	Value(node int) []float64
	// Classes maps a class index to the FunctionDescriptor key it stands for.
	Classes() []uint64
}

// Classifier trains a Tree from one boolean feature vector per function.
// labels[i] is the descriptor key of the function behind features[i].
type Classifier interface {
	Fit(features [][]bool, labels []uint64) (Tree, error)
}

// CART is the default Classifier.
type CART struct {
	MaxDepth int
}

func (c CART) Fit(features [][]bool, labels []uint64) (Tree, error) {
	t, err := cart.Classifier{MaxDepth: c.MaxDepth}.Fit(features, labels)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LabelEncoder maps behavior hashes onto dense feature ids in ascending hash
// order.
type LabelEncoder struct {
	classes []uint64
}

// NewLabelEncoder builds an encoder over the distinct values of hashes.
func NewLabelEncoder(hashes []uint64) *LabelEncoder {
	c := slices.Clone(hashes)
	slices.Sort(c)
	return &LabelEncoder{classes: slices.Compact(c)}
}

// Len is the number of distinct hashes.
func (e *LabelEncoder) Len() int { return len(e.classes) }

// Classes returns the hashes in id order.
func (e *LabelEncoder) Classes() []uint64 { return slices.Clone(e.classes) }

// Transform returns the id of h.
func (e *LabelEncoder) Transform(h uint64) (int, bool) {
	return slices.BinarySearch(e.classes, h)
}

// Inverse returns the hash with id.
func (e *LabelEncoder) Inverse(id int) (uint64, bool) {
	if id < 0 || id >= len(e.classes) {
		return 0, false
	}
	return e.classes[id], true
}
