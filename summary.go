package steam

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ResidualSummary describes the distribution of per-term costs.
type ResidualSummary struct {
	Count  int
	Total  float64
	Mean   float64
	StdDev float64
	Max    float64
	// MaxIndex is the index of the most expensive term, -1 when empty.
	MaxIndex int
}

// NewResidualSummary summarizes costs.
func NewResidualSummary(costs []float64) ResidualSummary {
	s := ResidualSummary{Count: len(costs), MaxIndex: -1}
	if len(costs) == 0 {
		return s
	}
	s.Total = floats.Sum(costs)
	s.Mean = stat.Mean(costs, nil)
	if len(costs) > 1 {
		s.StdDev = stat.StdDev(costs, nil)
	}
	s.MaxIndex = floats.MaxIdx(costs)
	s.Max = costs[s.MaxIndex]
	return s
}

// String implements the Stringer interface.
func (s ResidualSummary) String() string {
	return fmt.Sprintf("ResidualSummary{n=%d total=%e mean=%e stddev=%e max=%e@%d}",
		s.Count, s.Total, s.Mean, s.StdDev, s.Max, s.MaxIndex)
}
