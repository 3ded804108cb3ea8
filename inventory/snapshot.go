package inventory

import "sort"

// Level is one row of a snapshot: an item's current count next to its
// configured minimum.
type Level struct {
	Item  ItemClass
	Count int

	// Minimum is meaningful only when HasThreshold is true.
	Minimum      int
	HasThreshold bool

	// Observed reports whether the joined record carried a value for the
	// item. Count is zero when it did not.
	Observed bool

	// Rank is the item's position in the threshold table, -1 without a
	// threshold.
	Rank int
}

// Snapshot is the latest record joined with the threshold table. It is
// recomputed per record and never persisted.
type Snapshot struct {
	RecordID int64
	Levels   []Level

	unobservedDeficient bool
}

// Below reports whether the level triggers a low-stock alert under the
// snapshot's policy.
func (s Snapshot) Below(l Level) bool {
	if !l.HasThreshold {
		return false
	}
	if !l.Observed && !s.unobservedDeficient {
		return false
	}
	return l.Count < l.Minimum
}

// Lookup returns the level for item.
func (s Snapshot) Lookup(item ItemClass) (Level, bool) {
	for _, l := range s.Levels {
		if l.Item == item {
			return l, true
		}
	}
	return Level{}, false
}

// JoinOption customises Join.
type JoinOption func(*joinOptions)

type joinOptions struct {
	unobservedDeficient bool
}

// WithUnobservedDeficient controls threshold items the record carries no
// value for. By default they are never deficient (no data, no alert); with
// enabled set they count as zero and alert like any other item.
func WithUnobservedDeficient(enabled bool) JoinOption {
	return func(o *joinOptions) { o.unobservedDeficient = enabled }
}

// Join pairs every threshold with the record's count for that item, then
// appends the record's items that have no threshold. Threshold items come
// first in declared order, the rest in name order. Names match exactly.
func Join(record Record, table ThresholdTable, opts ...JoinOption) Snapshot {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}
	levels := make([]Level, 0, table.Len()+len(record.Counts))
	for i, th := range table.entries {
		levels = append(levels, Level{
			Item:         th.Item,
			Count:        record.Count(th.Item),
			Minimum:      th.Minimum,
			HasThreshold: true,
			Observed:     record.Has(th.Item),
			Rank:         i,
		})
	}
	for _, item := range record.Items() {
		if _, _, ok := table.Lookup(item); ok {
			continue
		}
		levels = append(levels, Level{
			Item:     item,
			Count:    record.Count(item),
			Observed: true,
			Rank:     -1,
		})
	}
	return Snapshot{RecordID: record.ID, Levels: levels, unobservedDeficient: o.unobservedDeficient}
}

// Deficient returns the items below their minimum, ordered by the threshold
// table's declared order regardless of the order of snapshot.Levels.
func Deficient(snapshot Snapshot) []ItemClass {
	var below []Level
	for _, l := range snapshot.Levels {
		if snapshot.Below(l) {
			below = append(below, l)
		}
	}
	sort.SliceStable(below, func(i, j int) bool { return below[i].Rank < below[j].Rank })
	out := make([]ItemClass, len(below))
	for i, l := range below {
		out[i] = l.Item
	}
	return out
}
