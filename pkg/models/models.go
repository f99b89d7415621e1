package models

import (
	"fmt"
	"math"
	"strconv"
)

// unitScale is the resolution used when comparing range bounds
const unitScale = 1e6

// Target is one crawlable marketplace entity
type Target struct {
	ID        string  `json:"id" yaml:"id"`
	DomainMin float64 `json:"domain_min" yaml:"domain_min"`
	DomainMax float64 `json:"domain_max" yaml:"domain_max"`
}

// WorkUnit is the smallest fetch granularity tracked for completion.
// Full units stand for "the whole target was paginated".
type WorkUnit struct {
	TargetID   string
	Full       bool
	RangeStart float64
	RangeEnd   float64
}

// FullUnit returns the sentinel unit covering a whole target
func FullUnit(targetID string) WorkUnit {
	return WorkUnit{TargetID: targetID, Full: true}
}

// RangeUnit returns a sub-range unit
func RangeUnit(targetID string, start, end float64) WorkUnit {
	return WorkUnit{TargetID: targetID, RangeStart: start, RangeEnd: end}
}

// UnitKey is a comparable identity for a WorkUnit
type UnitKey struct {
	TargetID string
	Full     bool
	Start    int64
	End      int64
}

// Key returns the comparable identity of the unit
func (u WorkUnit) Key() UnitKey {
	if u.Full {
		return UnitKey{TargetID: u.TargetID, Full: true}
	}
	return UnitKey{
		TargetID: u.TargetID,
		Start:    int64(math.Round(u.RangeStart * unitScale)),
		End:      int64(math.Round(u.RangeEnd * unitScale)),
	}
}

// RangeLabel renders the range column of the durable log
func (u WorkUnit) RangeLabel() string {
	if u.Full {
		return "full"
	}
	return FormatBound(u.RangeStart) + "-" + FormatBound(u.RangeEnd)
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s[%s]", u.TargetID, u.RangeLabel())
}

// FormatBound renders a range bound in its shortest exact form
func FormatBound(v float64) string {
	return strconv.FormatFloat(math.Round(v*unitScale)/unitScale, 'f', -1, 64)
}
