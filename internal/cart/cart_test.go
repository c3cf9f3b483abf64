package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaves returns the class labels with non-zero weight at every leaf.
func leaves(t *Tree) [][]uint64 {
	var out [][]uint64
	for n := 0; n < t.NodeCount(); n++ {
		if t.left[n] != t.right[n] {
			continue
		}
		var ls []uint64
		for i, v := range t.Value(n) {
			if v > 0 {
				ls = append(ls, t.classes[i])
			}
		}
		out = append(out, ls)
	}
	return out
}

func TestFitSingleFeature(t *testing.T) {
	tree, err := Classifier{}.Fit([][]bool{{true}, {false}}, []uint64{20, 10})
	require.NoError(t, err)

	require.Equal(t, 3, tree.NodeCount())
	assert.Equal(t, []uint64{10, 20}, tree.Classes())
	assert.Equal(t, []int{1, Leaf, Leaf}, tree.ChildrenLeft())
	assert.Equal(t, []int{2, Leaf, Leaf}, tree.ChildrenRight())
	assert.Equal(t, []int{0, Undefined, Undefined}, tree.Feature())
	assert.Equal(t, []float64{1, 0}, tree.Value(1), "false goes left")
	assert.Equal(t, []float64{0, 1}, tree.Value(2), "true goes right")
	assert.Equal(t, []float64{1, 1}, tree.Value(0))
	assert.Nil(t, tree.Value(3))
}

func TestFitDistinctVectorsGivePureLeaves(t *testing.T) {
	x := [][]bool{
		{false, false, true},
		{false, true, false},
		{true, false, false},
		{true, true, true},
	}
	y := []uint64{1, 2, 3, 4}
	tree, err := Classifier{}.Fit(x, y)
	require.NoError(t, err)

	ls := leaves(tree)
	require.Len(t, ls, 4)
	for _, l := range ls {
		assert.Len(t, l, 1)
	}
}

func TestFitXORNeedsZeroGainSplit(t *testing.T) {
	x := [][]bool{{false, false}, {false, true}, {true, false}, {true, true}}
	y := []uint64{1, 2, 2, 1}
	tree, err := Classifier{}.Fit(x, y)
	require.NoError(t, err)

	assert.Equal(t, 7, tree.NodeCount())
	assert.Equal(t, 2, tree.Depth())
	for _, l := range leaves(tree) {
		assert.Len(t, l, 1)
	}
}

func TestFitIdenticalVectorsShareLeaf(t *testing.T) {
	x := [][]bool{{true, false}, {true, false}, {false, false}}
	y := []uint64{7, 8, 9}
	tree, err := Classifier{}.Fit(x, y)
	require.NoError(t, err)

	assert.ElementsMatch(t, [][]uint64{{7, 8}, {9}}, leaves(tree))
}

func TestFitMaxDepth(t *testing.T) {
	x := [][]bool{{false, false}, {false, true}, {true, false}, {true, true}}
	tree, err := Classifier{MaxDepth: 1}.Fit(x, []uint64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, tree.NodeCount())
	assert.Equal(t, 1, tree.Depth())
}

func TestFitPreorderLayout(t *testing.T) {
	x := [][]bool{{false, false}, {false, true}, {true, false}}
	tree, err := Classifier{}.Fit(x, []uint64{1, 2, 3})
	require.NoError(t, err)

	// Every child index is greater than its parent's; left subtree first.
	for n := 0; n < tree.NodeCount(); n++ {
		if tree.left[n] == Leaf {
			assert.Equal(t, Leaf, tree.right[n])
			continue
		}
		assert.Equal(t, n+1, tree.left[n])
		assert.Greater(t, tree.right[n], tree.left[n])
	}
}

func TestFitErrors(t *testing.T) {
	_, err := Classifier{}.Fit(nil, nil)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = Classifier{}.Fit([][]bool{{true}}, []uint64{1, 2})
	assert.Error(t, err)

	_, err = Classifier{}.Fit([][]bool{{true}, {true, false}}, []uint64{1, 2})
	assert.Error(t, err)
}

func TestFitSingleClass(t *testing.T) {
	tree, err := Classifier{}.Fit([][]bool{{true}, {false}}, []uint64{5, 5})
	require.NoError(t, err)
	assert.Equal(t, 1, tree.NodeCount())
	assert.Equal(t, []float64{2}, tree.Value(0))
	assert.Equal(t, 0, tree.Depth())
}
