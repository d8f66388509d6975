package crdt

import (
	"sort"

	"github.com/pkg/errors"
)

// Structs

// AWSet is an add-wins set following the observed-removed
// construction: every add mints a unique token, a remove
// only cancels the tokens its origin had observed. A
// concurrent add therefore survives a concurrent remove
// of the same element, because its token was not part of
// the remove's observed set.
type AWSet struct {
	Adds    map[string]map[string]bool `msgpack:"adds"`
	Removes map[string]map[string]bool `msgpack:"removes"`
}

// Functions

// NewAWSet returns an empty add-wins set.
func NewAWSet() *AWSet {

	return &AWSet{
		Adds:    make(map[string]map[string]bool),
		Removes: make(map[string]map[string]bool),
	}
}

// Tag returns the type tag of this state.
func (s *AWSet) Tag() string {
	return TypeAWSet
}

// Value returns the sorted list of elements that still
// have at least one uncancelled add token.
func (s *AWSet) Value() interface{} {

	elems := make([]string, 0, len(s.Adds))

	for elem, tokens := range s.Adds {

		for token := range tokens {

			if !s.Removes[elem][token] {
				elems = append(elems, elem)
				break
			}
		}
	}

	sort.Strings(elems)

	return elems
}

// liveTokens collects the add tokens of elem not yet
// cancelled by a remove.
func (s *AWSet) liveTokens(elem string) []string {

	tokens := make([]string, 0, len(s.Adds[elem]))

	for token := range s.Adds[elem] {

		if !s.Removes[elem][token] {
			tokens = append(tokens, token)
		}
	}

	sort.Strings(tokens)

	return tokens
}

// Downstream prepares add, add_all, remove, remove_all
// and reset effects. Adds mint one fresh token per
// element, removes ship the tokens observed at origin
// (possibly none, which makes the remove a no-op
// everywhere).
func (s *AWSet) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	switch op.Name {

	case OpAdd:

		elem, err := argElem(op)
		if err != nil {
			return nil, err
		}

		return &AWAddEffect{
			Adds: []TaggedElem{{Elem: elem, Token: mint.NextToken()}},
		}, nil

	case OpAddAll:

		elems, err := argElems(op)
		if err != nil {
			return nil, err
		}

		adds := make([]TaggedElem, 0, len(elems))
		for _, elem := range elems {
			adds = append(adds, TaggedElem{Elem: elem, Token: mint.NextToken()})
		}

		return &AWAddEffect{Adds: adds}, nil

	case OpRemove:

		elem, err := argElem(op)
		if err != nil {
			return nil, err
		}

		return &AWRemoveEffect{
			Removes: []ElemTokens{{Elem: elem, Tokens: s.liveTokens(elem)}},
		}, nil

	case OpRemoveAll:

		elems, err := argElems(op)
		if err != nil {
			return nil, err
		}

		removes := make([]ElemTokens, 0, len(elems))
		for _, elem := range elems {
			removes = append(removes, ElemTokens{Elem: elem, Tokens: s.liveTokens(elem)})
		}

		return &AWRemoveEffect{Removes: removes}, nil

	case OpReset:

		// Cancel every element currently present.
		removes := make([]ElemTokens, 0, len(s.Adds))
		for elem := range s.Adds {

			tokens := s.liveTokens(elem)
			if len(tokens) > 0 {
				removes = append(removes, ElemTokens{Elem: elem, Tokens: tokens})
			}
		}

		sort.Slice(removes, func(i, j int) bool {
			return removes[i].Elem < removes[j].Elem
		})

		return &AWRemoveEffect{Removes: removes}, nil

	default:
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, s.Tag())
	}
}

// Apply unions add tokens into the add sets or remove
// tokens into the remove sets. Both are set unions, so
// re-application changes nothing.
func (s *AWSet) Apply(e Effect) error {

	switch eff := e.(type) {

	case *AWAddEffect:

		for _, add := range eff.Adds {

			if s.Adds[add.Elem] == nil {
				s.Adds[add.Elem] = make(map[string]bool)
			}

			s.Adds[add.Elem][add.Token] = true
		}

		return nil

	case *AWRemoveEffect:

		for _, rmv := range eff.Removes {

			if len(rmv.Tokens) == 0 {
				continue
			}

			if s.Removes[rmv.Elem] == nil {
				s.Removes[rmv.Elem] = make(map[string]bool)
			}

			for _, token := range rmv.Tokens {
				s.Removes[rmv.Elem][token] = true
			}
		}

		return nil

	default:
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, s.Tag())
	}
}

// Equal reports whether both sets carry identical token
// bookkeeping.
func (s *AWSet) Equal(other State) bool {

	o, ok := other.(*AWSet)
	if !ok {
		return false
	}

	return tokenMapsEqual(s.Adds, o.Adds) && tokenMapsEqual(s.Removes, o.Removes)
}

func (s *AWSet) sealedState() {}

// tokenMapsEqual compares two element-to-token-set maps,
// ignoring empty token sets.
func tokenMapsEqual(a map[string]map[string]bool, b map[string]map[string]bool) bool {

	for elem, tokens := range a {

		for token := range tokens {
			if !b[elem][token] {
				return false
			}
		}
	}

	for elem, tokens := range b {

		for token := range tokens {
			if !a[elem][token] {
				return false
			}
		}
	}

	return true
}
