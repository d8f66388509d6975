package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Functions

// TestVClockCompare exercises the four-way comparison
// over the union of both entry sets.
func TestVClockCompare(t *testing.T) {

	empty := NewVClock()
	other := NewVClock()

	// Empty clocks compare equal to each other.
	assert.Equal(t, OrdEqual, empty.Compare(other))

	// An empty clock is before any non-empty clock.
	other.Increment("worker-1")
	assert.Equal(t, OrdBefore, empty.Compare(other))
	assert.Equal(t, OrdAfter, other.Compare(empty))

	// Identical clocks compare equal.
	same := other.Copy()
	assert.Equal(t, OrdEqual, other.Compare(same))

	// A clock dominated on every position is before.
	ahead := other.Copy()
	ahead.Increment("worker-1")
	ahead.Increment("worker-2")
	assert.Equal(t, OrdBefore, other.Compare(ahead))
	assert.Equal(t, OrdAfter, ahead.Compare(other))

	// Disjoint advances are concurrent.
	left := NewVClock()
	left.Increment("worker-1")
	right := NewVClock()
	right.Increment("worker-2")
	assert.Equal(t, OrdConcurrent, left.Compare(right))
	assert.Equal(t, OrdConcurrent, right.Compare(left))
}

// TestVClockMerge checks the pair-wise maximum.
func TestVClockMerge(t *testing.T) {

	a := VClock{"worker-1": 3, "worker-2": 1}
	b := VClock{"worker-2": 4, "storage": 2}

	a.Merge(b)

	assert.Equal(t, uint64(3), a.Get("worker-1"))
	assert.Equal(t, uint64(4), a.Get("worker-2"))
	assert.Equal(t, uint64(2), a.Get("storage"))

	// Merging must never move an entry backwards.
	a.Merge(VClock{"worker-1": 1})
	assert.Equal(t, uint64(3), a.Get("worker-1"))
}

// TestVClockCopyIsDeep checks that a copy does not alias
// the original map.
func TestVClockCopyIsDeep(t *testing.T) {

	a := VClock{"worker-1": 3}
	b := a.Copy()

	b.Increment("worker-1")

	assert.Equal(t, uint64(3), a.Get("worker-1"))
	assert.Equal(t, uint64(4), b.Get("worker-1"))
}

// TestVClockNormalize checks the nil sentinel handling
// and the log rendering.
func TestVClockNormalize(t *testing.T) {

	vc := Normalize(nil)
	assert.NotNil(t, vc)
	assert.Equal(t, OrdEqual, vc.Compare(NewVClock()))

	vc.Increment("worker-2")
	vc.Increment("worker-1")
	vc.Increment("worker-1")

	assert.Equal(t, "worker-1:2;worker-2:1", vc.String())
}
