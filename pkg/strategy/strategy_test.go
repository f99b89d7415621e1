package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketcrawl/pkg/models"
)

func TestChoose(t *testing.T) {
	target := models.Target{ID: "1", DomainMin: 0, DomainMax: 1}

	tests := []struct {
		name      string
		probe     Probe
		remaining int
		wantKind  Kind
		trivial   bool
	}{
		{
			name:      "trivial listing paginates regardless of partition cost",
			probe:     Probe{TotalCount: 8, PartitionAvailable: true},
			remaining: 0,
			wantKind:  Pagination,
			trivial:   true,
		},
		{
			name:      "threshold is inclusive",
			probe:     Probe{TotalCount: 10, PartitionAvailable: true},
			remaining: 1,
			wantKind:  Pagination,
			trivial:   true,
		},
		{
			name:      "few remaining units beat many pages",
			probe:     Probe{TotalCount: 1000, PartitionAvailable: true},
			remaining: 5,
			wantKind:  Partition,
		},
		{
			name:      "few pages beat many units",
			probe:     Probe{TotalCount: 30, PartitionAvailable: true},
			remaining: 100,
			wantKind:  Pagination,
		},
		{
			name:      "tie goes to partition",
			probe:     Probe{TotalCount: 41, PartitionAvailable: true},
			remaining: 5,
			wantKind:  Partition,
		},
		{
			name:      "no range control falls back to pagination",
			probe:     Probe{TotalCount: 1000, PartitionAvailable: false},
			remaining: 5,
			wantKind:  Pagination,
		},
	}

	s := NewSelector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Choose(target, tt.probe, tt.remaining)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.trivial, d.Trivial)
		})
	}
}

func TestChooseReportsCosts(t *testing.T) {
	s := &Selector{PageSize: 10, TrivialThreshold: 10, PageCost: 2, UnitCost: 1}
	d := s.Choose(models.Target{ID: "1"}, Probe{TotalCount: 95, PartitionAvailable: true}, 15)

	assert.Equal(t, 10, d.PageRequests)
	assert.Equal(t, 20.0, d.PaginationCost)
	assert.Equal(t, 15.0, d.PartitionCost)
	assert.Equal(t, Partition, d.Kind)
	assert.Equal(t, "partition", d.Kind.String())
}

func TestPartitionerUnits(t *testing.T) {
	p := NewPartitioner()

	units := p.Units(models.Target{ID: "1", DomainMin: 0, DomainMax: 1})
	require.Len(t, units, 100)
	assert.Equal(t, models.RangeUnit("1", 0, 0.01).Key(), units[0].Key())
	assert.Equal(t, models.RangeUnit("1", 0.99, 1).Key(), units[99].Key())
	assert.Equal(t, "0.1-0.11", units[10].RangeLabel())
}

func TestPartitionerRoundsBounds(t *testing.T) {
	p := NewPartitioner()
	units := p.Units(models.Target{ID: "2", DomainMin: 0.06, DomainMax: 0.8})

	require.Len(t, units, 74)
	for i, u := range units {
		assert.Equal(t, u.RangeLabel(), models.FormatBound(u.RangeStart)+"-"+models.FormatBound(u.RangeEnd))
		if i > 0 {
			assert.Equal(t, units[i-1].RangeEnd, u.RangeStart)
		}
	}
	assert.Equal(t, "0.79-0.8", units[73].RangeLabel())
}

func TestPartitionerDropOut(t *testing.T) {
	p := &Partitioner{Step: 0.01, DropOut: 0.45}
	units := p.Units(models.Target{ID: "3", DomainMin: 0.38, DomainMax: 1})

	require.Len(t, units, 7)
	assert.Equal(t, "0.44-0.45", units[6].RangeLabel())
}

func TestPartitionerDegenerate(t *testing.T) {
	assert.Empty(t, NewPartitioner().Units(models.Target{ID: "x", DomainMin: 0.5, DomainMax: 0.5}))
	assert.Empty(t, (&Partitioner{Step: 0}).Units(models.Target{ID: "x", DomainMax: 1}))
}
