package crdt

import (
	"github.com/pkg/errors"
)

// Functions

// argAmount extracts the positive amount argument of a
// counter operation. A missing argument defaults to 1.
func argAmount(op Operation) (uint64, error) {

	if op.Arg == nil {
		return 1, nil
	}

	// Arguments freshly supplied by clients are Go ints,
	// arguments replayed from the log come back in
	// whatever width msgpack chose for them.
	var amount int64

	switch n := op.Arg.(type) {
	case int:
		amount = int64(n)
	case int8:
		amount = int64(n)
	case int16:
		amount = int64(n)
	case int32:
		amount = int64(n)
	case int64:
		amount = n
	case uint:
		amount = int64(n)
	case uint8:
		amount = int64(n)
	case uint16:
		amount = int64(n)
	case uint32:
		amount = int64(n)
	case uint64:
		amount = int64(n)
	default:
		return 0, errors.Wrapf(ErrInvalidOp, "unsupported counter amount type %T", op.Arg)
	}

	if amount < 1 {
		return 0, errors.Wrap(ErrInvalidOp, "counter amount must be positive")
	}

	return uint64(amount), nil
}

// argElem extracts the single element argument of a set,
// register or flag operation.
func argElem(op Operation) (string, error) {

	s, ok := op.Arg.(string)
	if !ok {
		return "", errors.Wrapf(ErrInvalidOp, "operation %s needs a string argument, got %T", op.Name, op.Arg)
	}

	return s, nil
}

// argElems extracts the element list argument of an
// add_all or remove_all operation.
func argElems(op Operation) ([]string, error) {

	switch es := op.Arg.(type) {

	case []string:
		return es, nil

	case []interface{}:

		// Decoded log records hand us untyped lists.
		elems := make([]string, 0, len(es))
		for _, e := range es {

			s, ok := e.(string)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidOp, "operation %s got non-string element %T", op.Name, e)
			}

			elems = append(elems, s)
		}

		return elems, nil

	default:
		return nil, errors.Wrapf(ErrInvalidOp, "operation %s needs a string list argument, got %T", op.Name, op.Arg)
	}
}
