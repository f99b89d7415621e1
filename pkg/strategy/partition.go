package strategy

import (
	"math"
	"strconv"
	"strings"

	"marketcrawl/pkg/models"
)

// Partitioner slices [DomainMin, DomainMax) into fixed-width units
type Partitioner struct {
	Step float64
	// DropOut skips units whose start is at or past this bound
	DropOut float64
}

// NewPartitioner returns a partitioner with 1% steps over the full wear domain
func NewPartitioner() *Partitioner {
	return &Partitioner{Step: 0.01, DropOut: 1.0}
}

// Units enumerates every sub-range unit of target in ascending order
func (p *Partitioner) Units(target models.Target) []models.WorkUnit {
	if p.Step <= 0 || target.DomainMax <= target.DomainMin {
		return nil
	}

	count := int(math.Floor((target.DomainMax-target.DomainMin)/p.Step + 1e-9))
	decimals := stepDecimals(p.Step)

	units := make([]models.WorkUnit, 0, count)
	for i := 0; i < count; i++ {
		start := roundTo(target.DomainMin+float64(i)*p.Step, decimals)
		end := roundTo(target.DomainMin+float64(i+1)*p.Step, decimals)
		if start >= p.DropOut {
			break
		}
		units = append(units, models.RangeUnit(target.ID, start, end))
	}
	return units
}

// stepDecimals returns how many decimal places the step carries
func stepDecimals(step float64) int {
	text := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(text, '.'); i >= 0 {
		return len(text) - i - 1
	}
	return 0
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
