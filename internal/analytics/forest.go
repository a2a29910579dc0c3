package analytics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Random forest defaults.
const (
	DefaultForestTrees    = 100
	DefaultForestMaxDepth = 10
	DefaultForestSeed     = 42
)

// RandomForest is an ensemble of bagged regression trees whose prediction is
// the mean of its members.
type RandomForest struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	Seed            uint64

	columns []string
	trees   []*regressionTree
}

// NewRandomForest returns a forest with the default hyperparameters.
func NewRandomForest(seed uint64) *RandomForest {
	return &RandomForest{
		Trees:           DefaultForestTrees,
		MaxDepth:        DefaultForestMaxDepth,
		MinSamplesSplit: 2,
		Seed:            seed,
	}
}

// Columns returns the fit-time feature columns.
func (f *RandomForest) Columns() []string {
	return f.columns
}

// Fit trains the forest from scratch on x (rows × columns) and y.
func (f *RandomForest) Fit(x [][]float64, y []float64, columns []string) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: no training rows", ErrRegressionFit)
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrRegressionFit, len(x), len(y))
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: no feature columns", ErrRegressionFit)
	}
	for i, row := range x {
		if len(row) != len(columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrRegressionFit, i, len(row), len(columns))
		}
	}
	if f.Trees <= 0 {
		return fmt.Errorf("%w: tree count must be positive", ErrRegressionFit)
	}

	rng := rand.New(rand.NewPCG(f.Seed, 0x9e3779b97f4a7c15))
	f.columns = slices.Clone(columns)
	f.trees = make([]*regressionTree, 0, f.Trees)

	n := len(x)
	for range f.Trees {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.IntN(n)
		}
		t := &regressionTree{maxDepth: f.MaxDepth, minSplit: max(f.MinSamplesSplit, 2)}
		t.root = t.grow(x, y, sample, 0)
		f.trees = append(f.trees, t)
	}
	return nil
}

// Predict aligns v to the fit-time columns and averages the trees.
func (f *RandomForest) Predict(v FeatureVector) (float64, error) {
	if len(f.trees) == 0 {
		return 0, fmt.Errorf("%w: forest is not fitted", ErrRegressionFit)
	}
	aligned, err := v.Align(f.columns)
	if err != nil {
		return 0, err
	}
	row := aligned.Values(f.columns)
	var sum float64
	for _, t := range f.trees {
		sum += t.predict(row)
	}
	return sum / float64(len(f.trees)), nil
}

type treeNode struct {
	feature   int
	threshold float64
	value     float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) leaf() bool { return n.left == nil }

type regressionTree struct {
	root     *treeNode
	maxDepth int
	minSplit int
}

func (t *regressionTree) predict(row []float64) float64 {
	n := t.root
	for !n.leaf() {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (t *regressionTree) grow(x [][]float64, y []float64, idx []int, depth int) *treeNode {
	targets := make([]float64, len(idx))
	for i, j := range idx {
		targets[i] = y[j]
	}
	node := &treeNode{value: floats.Sum(targets) / float64(len(targets))}

	if (t.maxDepth > 0 && depth >= t.maxDepth) || len(idx) < t.minSplit {
		return node
	}
	feature, threshold, ok := bestSplit(x, y, idx)
	if !ok {
		return node
	}

	var left, right []int
	for _, j := range idx {
		if x[j][feature] <= threshold {
			left = append(left, j)
		} else {
			right = append(right, j)
		}
	}
	node.feature = feature
	node.threshold = threshold
	node.left = t.grow(x, y, left, depth+1)
	node.right = t.grow(x, y, right, depth+1)
	return node
}

// bestSplit scans every feature and every midpoint between adjacent distinct
// values for the split with the lowest total squared error.
func bestSplit(x [][]float64, y []float64, idx []int) (int, float64, bool) {
	n := len(idx)
	// Work on deviations from the node mean so tiny price levels keep precision.
	var mean float64
	for _, j := range idx {
		mean += y[j]
	}
	mean /= float64(n)
	var total, totalSq float64
	for _, j := range idx {
		d := y[j] - mean
		total += d
		totalSq += d * d
	}
	parentSSE := totalSq - total*total/float64(n)
	if parentSSE <= 0 {
		return 0, 0, false
	}

	bestSSE := parentSSE
	bestFeature, bestThreshold, found := 0, 0.0, false
	order := slices.Clone(idx)
	for feat := range len(x[idx[0]]) {
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case x[a][feat] < x[b][feat]:
				return -1
			case x[a][feat] > x[b][feat]:
				return 1
			}
			return 0
		})
		var leftSum, leftSq float64
		for i := 0; i < n-1; i++ {
			v := y[order[i]] - mean
			leftSum += v
			leftSq += v * v
			cur, next := x[order[i]][feat], x[order[i+1]][feat]
			if cur == next {
				continue
			}
			nl, nr := float64(i+1), float64(n-i-1)
			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			if sse < bestSSE-1e-12*math.Abs(bestSSE) {
				bestSSE = sse
				bestFeature = feat
				bestThreshold = cur + (next-cur)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
