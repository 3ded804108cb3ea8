package inventory

import (
	"sort"
	"strings"
	"time"
)

// ItemClass identifies a trackable inventory category, usually the label a
// detector emits (e.g. "coke"). Matching is exact and case-sensitive.
type ItemClass string

// Vocabulary is the ordered, fixed set of item classes a pipeline counts. It
// is taken from the detector's label list at start-up and never grows while
// the pipeline runs.
type Vocabulary struct {
	items []ItemClass
	index map[ItemClass]int
}

// NewVocabulary validates and builds a vocabulary. Names must be non-blank and
// unique, also when compared without regard to letter case, since the store
// maps every item to a SQLite column and SQLite column names are
// case-insensitive.
func NewVocabulary(names ...string) (Vocabulary, error) {
	if len(names) == 0 {
		return Vocabulary{}, Configurationf("vocabulary is empty")
	}
	v := Vocabulary{
		items: make([]ItemClass, 0, len(names)),
		index: make(map[ItemClass]int, len(names)),
	}
	folded := make(map[string]string, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return Vocabulary{}, Configurationf("vocabulary contains a blank item name")
		}
		key := strings.ToLower(name)
		if prev, ok := folded[key]; ok {
			return Vocabulary{}, Configurationf("vocabulary item %q duplicates %q", name, prev)
		}
		folded[key] = name
		v.index[ItemClass(name)] = len(v.items)
		v.items = append(v.items, ItemClass(name))
	}
	return v, nil
}

// Items returns the item classes in declared order.
func (v Vocabulary) Items() []ItemClass {
	return append([]ItemClass(nil), v.items...)
}

// Len returns the number of item classes.
func (v Vocabulary) Len() int { return len(v.items) }

// Contains reports whether item is part of the vocabulary.
func (v Vocabulary) Contains(item ItemClass) bool {
	_, ok := v.index[item]
	return ok
}

// Record is one observation: the counts seen in a single frame or image.
type Record struct {
	// ID is the store-assigned row id. It is zero until the record has been
	// appended and is the only reliable ordering key.
	ID int64

	// Timestamp is the caller-supplied capture time (webcam streams). It may
	// be zero.
	Timestamp time.Time

	// FrameNo is the caller-supplied sequence number (uploaded videos). It may
	// be zero. Neither Timestamp nor FrameNo is required to increase.
	FrameNo int64

	// Counts maps item to count. Records read back from the store omit items
	// whose column did not exist yet when the row was written.
	Counts map[ItemClass]int
}

// Count returns the count for item, treating an absent item as zero.
func (r Record) Count(item ItemClass) int {
	return r.Counts[item]
}

// Has reports whether the record carries a value for item.
func (r Record) Has(item ItemClass) bool {
	_, ok := r.Counts[item]
	return ok
}

// Items returns the items carried by the record in name order.
func (r Record) Items() []ItemClass {
	out := make([]ItemClass, 0, len(r.Counts))
	for item := range r.Counts {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Total returns the sum of all counts.
func (r Record) Total() int {
	total := 0
	for _, c := range r.Counts {
		total += c
	}
	return total
}

// Threshold is the minimum acceptable count for one item.
type Threshold struct {
	Item    ItemClass
	Minimum int
}

// ThresholdTable is the ordered, read-only list of configured minimums. Its
// declared order drives the order of alerts.
type ThresholdTable struct {
	entries []Threshold
	index   map[ItemClass]int
}

// NewThresholdTable validates and builds a table. Item names must be
// non-blank and unique and minimums must not be negative. An empty table is
// valid here; the pipeline decides whether it can run without thresholds.
func NewThresholdTable(entries ...Threshold) (ThresholdTable, error) {
	t := ThresholdTable{
		entries: make([]Threshold, 0, len(entries)),
		index:   make(map[ItemClass]int, len(entries)),
	}
	for _, e := range entries {
		if strings.TrimSpace(string(e.Item)) == "" {
			return ThresholdTable{}, Configurationf("threshold table contains a blank item name")
		}
		if e.Minimum < 0 {
			return ThresholdTable{}, Configurationf("threshold for %q is negative (%d)", e.Item, e.Minimum)
		}
		if _, ok := t.index[e.Item]; ok {
			return ThresholdTable{}, Configurationf("threshold for %q is declared twice", e.Item)
		}
		t.index[e.Item] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Entries returns the thresholds in declared order.
func (t ThresholdTable) Entries() []Threshold {
	return append([]Threshold(nil), t.entries...)
}

// Len returns the number of configured thresholds.
func (t ThresholdTable) Len() int { return len(t.entries) }

// Lookup returns the minimum for item and its declared position.
func (t ThresholdTable) Lookup(item ItemClass) (minimum int, rank int, ok bool) {
	i, ok := t.index[item]
	if !ok {
		return 0, -1, false
	}
	return t.entries[i].Minimum, i, true
}
