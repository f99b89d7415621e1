// Package strategy decides how a target's listing is fetched and slices a
// target's value domain into partition units.
package strategy

import (
	"math"

	"marketcrawl/pkg/models"
)

// Kind names a fetch strategy
type Kind int

const (
	Pagination Kind = iota
	Partition
)

func (k Kind) String() string {
	switch k {
	case Partition:
		return "partition"
	default:
		return "pagination"
	}
}

// Probe is what one unfiltered navigation tells us about a target
type Probe struct {
	TotalCount         int
	PartitionAvailable bool
}

// Decision is the selector's answer for one target
type Decision struct {
	Kind Kind
	// Trivial means the probe page already holds every record
	Trivial        bool
	PageRequests   int
	UnitRequests   int
	PaginationCost float64
	PartitionCost  float64
}

// Selector compares the cost of paging through a listing against issuing one
// filtered request per remaining unit
type Selector struct {
	PageSize         int
	TrivialThreshold int
	PageCost         float64
	UnitCost         float64
}

// NewSelector returns a selector with the observed marketplace defaults
func NewSelector() *Selector {
	return &Selector{
		PageSize:         10,
		TrivialThreshold: 10,
		PageCost:         1,
		UnitCost:         1,
	}
}

// Choose picks a strategy. Small listings and sessions without the range
// control always paginate. Otherwise the cheaper plan wins and ties go to
// Partition, whose progress is recorded per unit.
func (s *Selector) Choose(target models.Target, probe Probe, remainingUnits int) Decision {
	pages := s.pages(probe.TotalCount)
	d := Decision{
		Kind:           Pagination,
		PageRequests:   pages,
		UnitRequests:   remainingUnits,
		PaginationCost: s.PageCost * float64(pages),
		PartitionCost:  s.UnitCost * float64(remainingUnits),
	}

	if probe.TotalCount <= s.TrivialThreshold {
		d.Trivial = true
		return d
	}
	if !probe.PartitionAvailable {
		return d
	}
	if d.PartitionCost <= d.PaginationCost {
		d.Kind = Partition
	}
	return d
}

func (s *Selector) pages(total int) int {
	size := s.PageSize
	if size <= 0 {
		size = 1
	}
	if total <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(size)))
}
