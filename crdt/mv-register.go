package crdt

import (
	"sort"

	"github.com/pkg/errors"
)

// Structs

// MVPair is one surviving write of a multi-value
// register: a value and the set of versions that still
// support it.
type MVPair struct {
	Value    string    `msgpack:"value"`
	Versions []Version `msgpack:"versions"`
}

// MVRegister is a multi-value register. An assign
// supersedes exactly the versions its origin had
// observed, so concurrent assigns of different values
// both survive and the register reads as the list of
// all of them.
type MVRegister struct {
	Pairs []MVPair `msgpack:"pairs"`
}

// Functions

// NewMVRegister returns an unwritten register.
func NewMVRegister() *MVRegister {
	return &MVRegister{}
}

// Tag returns the type tag of this state.
func (r *MVRegister) Tag() string {
	return TypeMVRegister
}

// Value returns the deduplicated, sorted list of
// surviving values.
func (r *MVRegister) Value() interface{} {

	seen := make(map[string]bool, len(r.Pairs))
	values := make([]string, 0, len(r.Pairs))

	for _, pair := range r.Pairs {

		if !seen[pair.Value] {
			seen[pair.Value] = true
			values = append(values, pair.Value)
		}
	}

	sort.Strings(values)

	return values
}

// observedVersions collects the union of all version
// sets currently in the register.
func (r *MVRegister) observedVersions() []Version {

	observed := make([]Version, 0)

	for _, pair := range r.Pairs {
		observed = append(observed, pair.Versions...)
	}

	return observed
}

// MaxVersionCounter returns the highest counter value
// among the surviving versions minted by replica, or
// zero if none survives.
func (r *MVRegister) MaxVersionCounter(replica string) uint64 {

	var max uint64

	for _, pair := range r.Pairs {

		for _, ver := range pair.Versions {

			if ver.Replica == replica && ver.Counter > max {
				max = ver.Counter
			}
		}
	}

	return max
}

// Downstream prepares a write effect carrying the new
// value, a fresh version and the versions observed at
// the origin.
func (r *MVRegister) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	if op.Name != OpAssign {
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, r.Tag())
	}

	value, err := argElem(op)
	if err != nil {
		return nil, err
	}

	return &MVWriteEffect{
		Value:    value,
		Version:  mint.NextVersion(),
		Observed: r.observedVersions(),
	}, nil
}

// Apply drops every pair fully covered by the write's
// observed set, shrinks the remaining pairs by it and
// inserts the written value under its fresh version.
func (r *MVRegister) Apply(e Effect) error {

	write, ok := e.(*MVWriteEffect)
	if !ok {
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, r.Tag())
	}

	observed := make(map[Version]bool, len(write.Observed))
	for _, ver := range write.Observed {
		observed[ver] = true
	}

	surviving := make([]MVPair, 0, len(r.Pairs)+1)

	for _, pair := range r.Pairs {

		kept := make([]Version, 0, len(pair.Versions))
		for _, ver := range pair.Versions {

			if !observed[ver] {
				kept = append(kept, ver)
			}
		}

		// A pair whose versions were all observed by the
		// write has been superseded.
		if len(kept) == 0 {
			continue
		}

		surviving = append(surviving, MVPair{Value: pair.Value, Versions: kept})
	}

	// Union the fresh version into an existing pair of
	// the same value or insert a new pair.
	inserted := false

	for i := range surviving {

		if surviving[i].Value == write.Value {

			if !versionsContain(surviving[i].Versions, write.Version) {
				surviving[i].Versions = append(surviving[i].Versions, write.Version)
			}

			inserted = true
			break
		}
	}

	if !inserted {
		surviving = append(surviving, MVPair{
			Value:    write.Value,
			Versions: []Version{write.Version},
		})
	}

	r.Pairs = surviving

	return nil
}

// Equal reports whether both registers carry the same
// pairs regardless of order.
func (r *MVRegister) Equal(other State) bool {

	o, ok := other.(*MVRegister)
	if !ok {
		return false
	}

	if len(r.Pairs) != len(o.Pairs) {
		return false
	}

	for _, pair := range r.Pairs {

		matched := false

		for _, otherPair := range o.Pairs {

			if pair.Value == otherPair.Value && versionSetsEqual(pair.Versions, otherPair.Versions) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

func (r *MVRegister) sealedState() {}

// versionsContain reports whether vs contains ver.
func versionsContain(vs []Version, ver Version) bool {

	for _, v := range vs {
		if v == ver {
			return true
		}
	}

	return false
}

// versionSetsEqual compares two version sets regardless
// of order.
func versionSetsEqual(a []Version, b []Version) bool {

	if len(a) != len(b) {
		return false
	}

	for _, ver := range a {
		if !versionsContain(b, ver) {
			return false
		}
	}

	return true
}
