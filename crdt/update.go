package crdt

// Structs

// Update is one element of a client batch: the key of
// the object to update, the operation name and its
// optional argument. Updates travel through the engine,
// the operation log and back out of recovery, so the
// argument is restricted to msgpack-stable values
// (integers, strings, string lists).
type Update struct {
	Key Key         `msgpack:"key"`
	Op  string      `msgpack:"op"`
	Arg interface{} `msgpack:"arg"`
}

// Functions

// Operation returns the update's operation part.
func (u Update) Operation() Operation {

	return Operation{
		Name: u.Op,
		Arg:  u.Arg,
	}
}
