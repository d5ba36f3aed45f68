package selection

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
	"github.com/paveg/damagegrade/internal/forest"
	"gonum.org/v1/gonum/mat"
)

// Recursive eliminates the least important features in rounds, refitting a
// forest on the survivors each round, until Target features remain.
type Recursive struct {
	Target int
	Step   int
	Params forest.Params

	mask
	ranking []int
	rounds  int
}

// NewRecursive returns a recursive eliminator keeping target features and
// dropping step features per round.
func NewRecursive(target, step int, params forest.Params) *Recursive {
	return &Recursive{Target: target, Step: step, Params: params}
}

// Fit runs the elimination. Among equally important features the one that
// comes first in the original column order is dropped first. Importances
// reported afterwards come from a final fit on the selected features.
func (s *Recursive) Fit(ctx context.Context, X *mat.Dense, y []int, names []string) error {
	if err := checkInputs("Recursive", X, y, names); err != nil {
		return err
	}
	n := len(names)
	if s.Target < 1 || s.Target > n {
		return dgerrors.NewConfigError("Recursive",
			fmt.Sprintf("target must be in [1, %d], got %d", n, s.Target))
	}
	if s.Step < 1 {
		return dgerrors.NewConfigError("Recursive", fmt.Sprintf("step must be at least 1, got %d", s.Step))
	}

	support := make([]bool, n)
	for i := range support {
		support[i] = true
	}
	ranking := make([]int, n)
	for i := range ranking {
		ranking[i] = 1
	}

	rounds := 0
	active := n
	for active > s.Target {
		if err := ctx.Err(); err != nil {
			return err
		}
		importances, err := s.fitActive(ctx, X, y, support)
		if err != nil {
			return fmt.Errorf("elimination round %d: %w", rounds+1, err)
		}

		activeIdx := activeIndices(support)
		slices.SortStableFunc(activeIdx, func(a, b int) int {
			return cmp.Compare(importances[a], importances[b])
		})

		drop := min(s.Step, active-s.Target)
		for _, j := range activeIdx[:drop] {
			support[j] = false
		}
		for j, keep := range support {
			if !keep {
				ranking[j]++
			}
		}
		active -= drop
		rounds++
	}

	importances, err := s.fitActive(ctx, X, y, support)
	if err != nil {
		return fmt.Errorf("final fit: %w", err)
	}

	s.ranking = ranking
	s.rounds = rounds
	s.mask = mask{
		names:       slices.Clone(names),
		support:     support,
		importances: importances,
	}
	return nil
}

// fitActive fits a forest on the supported columns and spreads its
// importances back over the original column positions.
func (s *Recursive) fitActive(ctx context.Context, X *mat.Dense, y []int, support []bool) ([]float64, error) {
	sub, err := Columns(X, support)
	if err != nil {
		return nil, err
	}
	f := forest.New(s.Params)
	if err := f.FitContext(ctx, sub, y); err != nil {
		return nil, err
	}

	out := make([]float64, len(support))
	for k, j := range activeIndices(support) {
		out[j] = f.Importances[k]
	}
	return out, nil
}

func activeIndices(support []bool) []int {
	out := make([]int, 0, len(support))
	for j, keep := range support {
		if keep {
			out = append(out, j)
		}
	}
	return out
}

// Ranking gives 1 for selected features and larger values for features
// eliminated in earlier rounds.
func (s *Recursive) Ranking() []int {
	return slices.Clone(s.ranking)
}

// Rounds returns the number of elimination rounds of the last fit.
func (s *Recursive) Rounds() int {
	return s.rounds
}
