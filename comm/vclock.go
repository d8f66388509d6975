package comm

import (
	"fmt"
	"sort"
	"strings"
)

// Constants

// Possible outcomes of comparing two vector clocks.
const (
	OrdEqual Ordering = iota
	OrdBefore
	OrdAfter
	OrdConcurrent
)

// Structs

// Ordering expresses the causal relation between
// two vector clocks.
type Ordering int

// VClock is the logical clock of a replica: one
// non-negative counter per replica identifier. A
// missing entry counts as zero.
type VClock map[string]uint64

// Functions

// NewVClock returns a fresh, empty vector clock.
func NewVClock() VClock {
	return make(VClock)
}

// Normalize maps every sentinel a caller might supply
// in place of a proper vector clock to the empty clock.
// Currently that is only the nil map.
func Normalize(vc VClock) VClock {

	if vc == nil {
		return NewVClock()
	}

	return vc
}

// Copy returns a deep copy of the vector clock so that
// callers can hold on to a value while the replica's own
// clock keeps advancing.
func (vc VClock) Copy() VClock {

	copied := make(VClock, len(vc))
	for node, value := range vc {
		copied[node] = value
	}

	return copied
}

// Get returns the counter stored for node or zero
// if no entry exists.
func (vc VClock) Get(node string) uint64 {
	return vc[node]
}

// Increment raises the counter of node by one,
// creating the entry if it was absent.
func (vc VClock) Increment(node string) {
	vc[node] = vc[node] + 1
}

// Merge folds other into vc by taking the pair-wise
// maximum over the union of both entry sets.
func (vc VClock) Merge(other VClock) {

	for node, value := range other {

		if value > vc[node] {
			vc[node] = value
		}
	}
}

// Compare determines the causal relation between vc and
// other. Positions are compared over the union of both
// key sets with absent entries read as zero. All positions
// equal means OrdEqual, only smaller-or-equal positions
// with at least one strictly smaller means OrdBefore, the
// symmetric case means OrdAfter, everything else is
// OrdConcurrent.
func (vc VClock) Compare(other VClock) Ordering {

	less := 0
	greater := 0

	for node, value := range vc {

		otherValue := other[node]

		if value < otherValue {
			less++
		} else if value > otherValue {
			greater++
		}
	}

	// Entries only present in other have not been
	// visited above and compare as 0 < value there.
	for node, otherValue := range other {

		if _, found := vc[node]; !found && otherValue > 0 {
			less++
		}
	}

	if less == 0 && greater == 0 {
		return OrdEqual
	}

	if less > 0 && greater == 0 {
		return OrdBefore
	}

	if greater > 0 && less == 0 {
		return OrdAfter
	}

	return OrdConcurrent
}

// String renders the clock as 'node:counter;node:counter'
// with entries sorted by node name, the format we also
// write into logs.
func (vc VClock) String() string {

	nodes := make([]string, 0, len(vc))
	for node := range vc {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		parts = append(parts, fmt.Sprintf("%s:%d", node, vc[node]))
	}

	return strings.Join(parts, ";")
}
