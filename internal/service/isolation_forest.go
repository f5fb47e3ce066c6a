package service

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	harmonic := math.Log(float64(n-1)) + eulerGamma
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf only
}

func (n *isoNode) isLeaf() bool {
	return n.left == nil
}

// isolationForest is an ensemble of random isolation trees. Points that are
// isolated in few splits score as outliers.
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

type isolationForestConfig struct {
	Trees      int
	MaxSamples int
	Seed       int64
}

func fitIsolationForest(data [][]float64, cfg isolationForestConfig) *isolationForest {
	rng := rand.New(rand.NewSource(cfg.Seed))

	psi := cfg.MaxSamples
	if len(data) < psi {
		psi = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	forest := &isolationForest{sampleSize: psi}
	for i := 0; i < cfg.Trees; i++ {
		perm := rng.Perm(len(data))[:psi]
		sample := make([][]float64, psi)
		for j, idx := range perm {
			sample[j] = data[idx]
		}
		forest.trees = append(forest.trees, buildIsoTree(rng, sample, 0, maxDepth))
	}
	return forest
}

func buildIsoTree(rng *rand.Rand, points [][]float64, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(points) <= 1 {
		return &isoNode{size: len(points)}
	}

	// only features that still vary within this node can split it
	dims := len(points[0])
	var candidates []int
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for f := 0; f < dims; f++ {
		mins[f], maxs[f] = points[0][f], points[0][f]
		for _, p := range points[1:] {
			mins[f] = math.Min(mins[f], p[f])
			maxs[f] = math.Max(maxs[f], p[f])
		}
		if maxs[f] > mins[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(points)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := mins[feature]
	for split <= mins[feature] {
		split = mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])
	}

	var left, right [][]float64
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(rng, left, depth+1, maxDepth),
		right:   buildIsoTree(rng, right, depth+1, maxDepth),
	}
}

func pathLength(node *isoNode, x []float64) float64 {
	depth := 0.0
	for !node.isLeaf() {
		if x[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return depth + averagePathLength(node.size)
}

// score returns the negated anomaly score in [-1, 0): the lower, the more
// anomalous. Typical points score near -0.5.
func (f *isolationForest) score(x []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, x)
	}
	meanDepth := total / float64(len(f.trees))
	return -math.Pow(2, -meanDepth/averagePathLength(f.sampleSize))
}

// standardize rescales each column to zero mean and unit population
// variance. Constant columns become zero.
func standardize(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	dims := len(rows[0])
	out := make([][]float64, len(rows))
	for i := range out {
		out[i] = make([]float64, dims)
	}

	col := make([]float64, len(rows))
	for f := 0; f < dims; f++ {
		for i, r := range rows {
			col[i] = r[f]
		}
		m, sd := stat.PopMeanStdDev(col, nil)
		if len(rows) < 2 || sd == 0 {
			continue
		}
		for i, r := range rows {
			out[i][f] = (r[f] - m) / sd
		}
	}
	return out
}
