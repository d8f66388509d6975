package crdt

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Structs

// TPSet is a two-phase set: both the added and the
// removed set only ever grow, and membership is the
// difference of the two. Once removed, an element can
// never reappear, which the origin enforces by rejecting
// re-adds.
type TPSet struct {
	Added   map[string]bool `msgpack:"added"`
	Removed map[string]bool `msgpack:"removed"`
}

// Functions

// NewTPSet returns an empty two-phase set.
func NewTPSet() *TPSet {

	return &TPSet{
		Added:   make(map[string]bool),
		Removed: make(map[string]bool),
	}
}

// Tag returns the type tag of this state.
func (s *TPSet) Tag() string {
	return TypeTPSet
}

// Value returns the sorted list of elements that are in
// added but not in removed.
func (s *TPSet) Value() interface{} {

	elems := make([]string, 0, len(s.Added))

	for elem := range s.Added {

		if !s.Removed[elem] {
			elems = append(elems, elem)
		}
	}

	sort.Strings(elems)

	return elems
}

// Downstream prepares add and remove effects. The single
// element forms reject offending operations at the
// origin, the _all forms silently drop the offending
// elements instead.
func (s *TPSet) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	switch op.Name {

	case OpAdd:

		elem, err := argElem(op)
		if err != nil {
			return nil, err
		}

		if s.Removed[elem] {
			return nil, fmt.Errorf("element %q was removed before and cannot re-enter a two-phase set", elem)
		}

		return &TPAddEffect{Elems: []string{elem}}, nil

	case OpAddAll:

		elems, err := argElems(op)
		if err != nil {
			return nil, err
		}

		accepted := make([]string, 0, len(elems))
		for _, elem := range elems {

			if !s.Removed[elem] {
				accepted = append(accepted, elem)
			}
		}

		return &TPAddEffect{Elems: accepted}, nil

	case OpRemove:

		elem, err := argElem(op)
		if err != nil {
			return nil, err
		}

		if !s.Added[elem] {
			return nil, fmt.Errorf("element %q is not present and cannot be removed from a two-phase set", elem)
		}

		return &TPRemoveEffect{Elems: []string{elem}}, nil

	case OpRemoveAll:

		elems, err := argElems(op)
		if err != nil {
			return nil, err
		}

		accepted := make([]string, 0, len(elems))
		for _, elem := range elems {

			if s.Added[elem] {
				accepted = append(accepted, elem)
			}
		}

		return &TPRemoveEffect{Elems: accepted}, nil

	default:
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, s.Tag())
	}
}

// Apply unions elements into the respective phase set.
func (s *TPSet) Apply(e Effect) error {

	switch eff := e.(type) {

	case *TPAddEffect:

		for _, elem := range eff.Elems {
			s.Added[elem] = true
		}

		return nil

	case *TPRemoveEffect:

		for _, elem := range eff.Elems {
			s.Removed[elem] = true
		}

		return nil

	default:
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, s.Tag())
	}
}

// Equal reports whether both sets carry identical phase
// sets.
func (s *TPSet) Equal(other State) bool {

	o, ok := other.(*TPSet)
	if !ok {
		return false
	}

	return elemSetsEqual(s.Added, o.Added) && elemSetsEqual(s.Removed, o.Removed)
}

func (s *TPSet) sealedState() {}

// elemSetsEqual compares two element sets.
func elemSetsEqual(a map[string]bool, b map[string]bool) bool {

	if len(a) != len(b) {
		return false
	}

	for elem := range a {
		if !b[elem] {
			return false
		}
	}

	return true
}
