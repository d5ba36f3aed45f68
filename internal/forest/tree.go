package forest

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
)

const leafFeature = -1

// Tree is a fitted CART classifier stored as flat node arrays. Node 0 is the
// root. An internal node sends rows with x[Feature] <= Threshold to Left.
type Tree struct {
	Feature   []int
	Threshold []float64
	Left      []int
	Right     []int
	// Value holds NumClasses class probabilities per node.
	Value      []float64
	NumClasses int

	// importance is the unnormalised impurity decrease per feature.
	importance []float64
}

// treeBuilder holds the state of one tree fit. cols is shared read-only
// between builders; everything else is private.
type treeBuilder struct {
	cols        [][]float64
	y           []int
	numClasses  int
	params      Params
	maxFeatures int
	impurity    func(counts []float64, total float64) float64
	rng         *rand.Rand

	tree     *Tree
	features []int
	order    []int
}

func newTreeBuilder(cols [][]float64, y []int, numClasses int, params Params, maxFeatures int, rng *rand.Rand) *treeBuilder {
	b := &treeBuilder{
		cols:        cols,
		y:           y,
		numClasses:  numClasses,
		params:      params,
		maxFeatures: maxFeatures,
		impurity:    gini,
		rng:         rng,
		tree: &Tree{
			NumClasses: numClasses,
			importance: make([]float64, len(cols)),
		},
		features: make([]int, len(cols)),
	}
	if params.Criterion == CriterionEntropy {
		b.impurity = entropy
	}
	for j := range b.features {
		b.features[j] = j
	}
	return b
}

// build grows the tree over the given sample rows, which may repeat.
func (b *treeBuilder) build(samples []int) *Tree {
	b.order = make([]int, len(samples))
	b.grow(slices.Clone(samples), 0)
	return b.tree
}

type candidate struct {
	feature   int
	threshold float64
	gain      float64
	leftCount int
}

func (b *treeBuilder) grow(samples []int, depth int) int {
	counts := make([]float64, b.numClasses)
	for _, i := range samples {
		counts[b.y[i]]++
	}
	total := float64(len(samples))
	node := b.addNode(counts, total)
	nodeImpurity := b.impurity(counts, total)

	if nodeImpurity <= 1e-12 ||
		len(samples) < b.params.MinSamplesSplit ||
		len(samples) < 2*b.params.MinSamplesLeaf ||
		(b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) {
		return node
	}

	best := b.bestSplit(samples, counts, nodeImpurity)
	if best.feature == leafFeature {
		return node
	}

	col := b.cols[best.feature]
	left := make([]int, 0, best.leftCount)
	right := make([]int, 0, len(samples)-best.leftCount)
	for _, i := range samples {
		if col[i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.tree.importance[best.feature] += best.gain * total
	b.tree.Feature[node] = best.feature
	b.tree.Threshold[node] = best.threshold

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.Left[node] = l
	b.tree.Right[node] = r
	return node
}

func (b *treeBuilder) addNode(counts []float64, total float64) int {
	t := b.tree
	t.Feature = append(t.Feature, leafFeature)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	for _, c := range counts {
		t.Value = append(t.Value, c/total)
	}
	return len(t.Feature) - 1
}

// bestSplit draws candidate features without replacement and keeps the
// split with the largest impurity decrease. Later candidates must beat the
// current best strictly.
func (b *treeBuilder) bestSplit(samples []int, counts []float64, nodeImpurity float64) candidate {
	best := candidate{feature: leafFeature}
	total := float64(len(samples))
	minLeaf := b.params.MinSamplesLeaf

	order := b.order[:len(samples)]
	leftCounts := make([]float64, b.numClasses)
	rightCounts := make([]float64, b.numClasses)

	p := len(b.features)
	for drawn := 0; drawn < b.maxFeatures; drawn++ {
		k := drawn + b.rng.IntN(p-drawn)
		b.features[drawn], b.features[k] = b.features[k], b.features[drawn]
		f := b.features[drawn]
		col := b.cols[f]

		copy(order, samples)
		slices.SortFunc(order, func(i, j int) int {
			return cmp.Compare(col[i], col[j])
		})
		if col[order[0]] == col[order[len(order)-1]] {
			continue
		}

		clear(leftCounts)
		copy(rightCounts, counts)
		for pos := 1; pos < len(order); pos++ {
			cls := b.y[order[pos-1]]
			leftCounts[cls]++
			rightCounts[cls]--

			lo, hi := col[order[pos-1]], col[order[pos]]
			if lo == hi || pos < minLeaf || len(order)-pos < minLeaf {
				continue
			}

			nl := float64(pos)
			nr := total - nl
			weighted := (nl*b.impurity(leftCounts, nl) + nr*b.impurity(rightCounts, nr)) / total
			gain := nodeImpurity - weighted
			if gain > best.gain+1e-12 {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = candidate{feature: f, threshold: threshold, gain: gain, leftCount: pos}
			}
		}
	}
	return best
}

// leaf returns the node index a row lands in.
func (t *Tree) leaf(row []float64) int {
	node := 0
	for t.Feature[node] != leafFeature {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

// Proba returns the class distribution of the leaf a row lands in.
func (t *Tree) Proba(row []float64) []float64 {
	node := t.leaf(row)
	return t.Value[node*t.NumClasses : (node+1)*t.NumClasses]
}

// NumNodes returns the number of nodes in the tree.
func (t *Tree) NumNodes() int {
	return len(t.Feature)
}

// Depth returns the length of the longest root to leaf path.
func (t *Tree) Depth() int {
	var walk func(node int) int
	walk = func(node int) int {
		if t.Feature[node] == leafFeature {
			return 0
		}
		return 1 + max(walk(t.Left[node]), walk(t.Right[node]))
	}
	if len(t.Feature) == 0 {
		return 0
	}
	return walk(0)
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / total
		sum += p * p
	}
	return 1 - sum
}

func entropy(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c > 0 {
			p := c / total
			h -= p * math.Log2(p)
		}
	}
	return h
}
