// Package cart grows binary decision trees (CART, Gini impurity) over boolean
// feature vectors.
//
// Trees are stored as flat parallel arrays in depth-first preorder, the same
// shape the forest addresses by global index. A sample whose feature is false
// goes left, true goes right. Leaves have both children set to Leaf.
package cart

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// Leaf is the child index stored at leaves.
	Leaf = -1
	// Undefined is the feature stored at leaves.
	Undefined = -2
)

// Tree is a trained tree.
type Tree struct {
	left, right []int
	feature     []int
	value       [][]float64
	classes     []uint64
}

func (t *Tree) NodeCount() int       { return len(t.left) }
func (t *Tree) ChildrenLeft() []int  { return t.left }
func (t *Tree) ChildrenRight() []int { return t.right }
func (t *Tree) Feature() []int       { return t.feature }
func (t *Tree) Classes() []uint64    { return t.classes }

// Value returns the per-class sample counts that reached node. The slice is
// shared with the tree and must not be modified.
func (t *Tree) Value(node int) []float64 {
	if node < 0 || node >= len(t.value) {
		return nil
	}
	return t.value[node]
}

// Depth reports the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(n int) int
	walk = func(n int) int {
		if t.left[n] == Leaf {
			return 0
		}
		return 1 + max(walk(t.left[n]), walk(t.right[n]))
	}
	if len(t.left) == 0 {
		return 0
	}
	return walk(0)
}

// Classifier grows a Tree. The zero value grows until leaves are pure or no
// feature separates their samples.
type Classifier struct {
	// MaxDepth stops splitting at this depth; 0 means unlimited.
	MaxDepth int
}

// ErrNoSamples is returned when Fit is given nothing to learn from.
var ErrNoSamples = errors.New("cart: no samples")

// Fit grows a tree that separates labels by features. All feature vectors
// must have the same width. Classes of the result are the distinct labels in
// ascending order.
func (c Classifier) Fit(features [][]bool, labels []uint64) (*Tree, error) {
	if len(features) == 0 {
		return nil, ErrNoSamples
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("cart: %d feature vectors for %d labels", len(features), len(labels))
	}
	width := len(features[0])
	for i, f := range features {
		if len(f) != width {
			return nil, fmt.Errorf("cart: sample %d has %d features, want %d", i, len(f), width)
		}
	}

	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i], _ = slices.BinarySearch(classes, l)
	}

	g := &grower{
		x:        features,
		y:        y,
		width:    width,
		nclasses: len(classes),
		maxDepth: c.MaxDepth,
		tree:     &Tree{classes: classes},
	}
	samples := make([]int, len(features))
	for i := range samples {
		samples[i] = i
	}
	g.grow(samples, 0)
	return g.tree, nil
}

type grower struct {
	x        [][]bool
	y        []int
	width    int
	nclasses int
	maxDepth int
	tree     *Tree
}

func (g *grower) counts(samples []int) []float64 {
	v := make([]float64, g.nclasses)
	for _, s := range samples {
		v[g.y[s]]++
	}
	return v
}

// grow appends the subtree for samples in preorder and returns its root.
func (g *grower) grow(samples []int, depth int) int {
	t := g.tree
	node := len(t.left)
	value := g.counts(samples)
	t.left = append(t.left, Leaf)
	t.right = append(t.right, Leaf)
	t.feature = append(t.feature, Undefined)
	t.value = append(t.value, value)

	if gini(value, len(samples)) == 0 || (g.maxDepth > 0 && depth >= g.maxDepth) {
		return node
	}
	f, ok := g.bestSplit(samples)
	if !ok {
		return node
	}

	var lo, hi []int
	for _, s := range samples {
		if g.x[s][f] {
			hi = append(hi, s)
		} else {
			lo = append(lo, s)
		}
	}
	t.feature[node] = f
	l := g.grow(lo, depth+1)
	r := g.grow(hi, depth+1)
	t.left[node], t.right[node] = l, r
	return node
}

// bestSplit picks the feature with the lowest weighted child impurity among
// those that put samples on both sides. Ties go to the lower feature index.
func (g *grower) bestSplit(samples []int) (int, bool) {
	best, bestScore := -1, 0.0
	lo := make([]float64, g.nclasses)
	hi := make([]float64, g.nclasses)
	for f := 0; f < g.width; f++ {
		clear(lo)
		clear(hi)
		nlo, nhi := 0, 0
		for _, s := range samples {
			if g.x[s][f] {
				hi[g.y[s]]++
				nhi++
			} else {
				lo[g.y[s]]++
				nlo++
			}
		}
		if nlo == 0 || nhi == 0 {
			continue
		}
		score := float64(nlo)*gini(lo, nlo) + float64(nhi)*gini(hi, nhi)
		if best < 0 || score < bestScore {
			best, bestScore = f, score
		}
	}
	return best, best >= 0
}

func gini(counts []float64, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / float64(n)
		sum += p * p
	}
	return 1 - sum
}
