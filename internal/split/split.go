// Package split partitions labelled rows into training and holdout sets
// while preserving class proportions.
package split

import (
	"cmp"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/validation"
)

// Split holds disjoint ascending row indices.
type Split struct {
	Train   []int
	Holdout []int
}

// ClassShare is the count and fraction of one label value.
type ClassShare struct {
	Class int64
	Count int
	Share float64
}

// Stratified partitions row indices 0..len(labels)-1 so that the holdout
// holds ceil(holdoutFraction*n) rows and each class keeps its share of both
// partitions. Per-class quotas use largest-remainder allocation. The same
// labels, fraction and seed always produce the same split.
func Stratified(labels []int64, holdoutFraction float64, seed uint64) (Split, error) {
	if err := validation.ValidateOpenRange(holdoutFraction, 0, 1, "Stratified", "holdout fraction"); err != nil {
		return Split{}, err
	}
	n := len(labels)
	if n == 0 {
		return Split{}, dgerrors.NewValidationError("Stratified", "", "no labels to split")
	}

	groups := make(map[int64][]int)
	for i, label := range labels {
		groups[label] = append(groups[label], i)
	}
	classes := make([]int64, 0, len(groups))
	for class, members := range groups {
		if len(members) < 2 {
			return Split{}, dgerrors.NewValidationError("Stratified", "",
				fmt.Sprintf("class %d has %d member; need at least 2 to appear in both partitions", class, len(members)))
		}
		classes = append(classes, class)
	}
	slices.Sort(classes)

	holdoutSize := int(math.Ceil(holdoutFraction * float64(n)))
	if holdoutSize >= n {
		return Split{}, dgerrors.NewValidationError("Stratified", "",
			fmt.Sprintf("holdout of %d rows leaves no training rows", holdoutSize))
	}

	quotas := allocate(classes, groups, holdoutFraction, holdoutSize)

	out := Split{
		Train:   make([]int, 0, n-holdoutSize),
		Holdout: make([]int, 0, holdoutSize),
	}
	for ci, class := range classes {
		members := slices.Clone(groups[class])
		rng := rand.New(rand.NewPCG(seed, uint64(ci)))
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})
		out.Holdout = append(out.Holdout, members[:quotas[ci]]...)
		out.Train = append(out.Train, members[quotas[ci]:]...)
	}

	slices.Sort(out.Train)
	slices.Sort(out.Holdout)
	return out, nil
}

// allocate distributes total across classes by largest remainder of
// fraction*count. A class never gets all of its members.
func allocate(classes []int64, groups map[int64][]int, fraction float64, total int) []int {
	type remainder struct {
		class int
		frac  float64
	}

	quotas := make([]int, len(classes))
	rems := make([]remainder, len(classes))
	assigned := 0
	for i, class := range classes {
		exact := fraction * float64(len(groups[class]))
		quotas[i] = int(math.Floor(exact))
		if quotas[i] > len(groups[class])-1 {
			quotas[i] = len(groups[class]) - 1
		}
		rems[i] = remainder{class: i, frac: exact - float64(quotas[i])}
		assigned += quotas[i]
	}

	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac > rems[b].frac
	})
	for assigned < total {
		progressed := false
		for _, r := range rems {
			if assigned == total {
				break
			}
			if quotas[r.class] < len(groups[classes[r.class]])-1 {
				quotas[r.class]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return quotas
}

// Proportions reports each class's count and share, ordered by class.
func Proportions(labels []int64) []ClassShare {
	counts := make(map[int64]int)
	for _, label := range labels {
		counts[label]++
	}
	shares := make([]ClassShare, 0, len(counts))
	for class, count := range counts {
		shares = append(shares, ClassShare{
			Class: class,
			Count: count,
			Share: float64(count) / float64(len(labels)),
		})
	}
	slices.SortFunc(shares, func(a, b ClassShare) int {
		return cmp.Compare(a.Class, b.Class)
	})
	return shares
}
