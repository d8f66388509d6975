package crdt

import (
	"fmt"

	"github.com/satori/go.uuid"
)

// Structs

// TokenMint produces the unique tags the add-wins set,
// the enable-wins flag and the multi-value register need
// at their origin replica. Tokens pair a per-mint
// monotonic counter with a random UUID; register versions
// carry the counter alone. Uniqueness never depends on
// the wall clock. A mint is
// owned by exactly one replica engine and must only be
// used from its actor goroutine.
type TokenMint struct {
	replica string
	counter uint64
}

// Version identifies one assign of a multi-value
// register: the minting replica plus its counter value.
type Version struct {
	Replica string `msgpack:"replica"`
	Counter uint64 `msgpack:"counter"`
}

// Functions

// NewTokenMint returns a mint tied to the given
// replica identifier.
func NewTokenMint(replica string) *TokenMint {

	return &TokenMint{
		replica: replica,
	}
}

// Replica returns the identifier of the replica
// this mint belongs to.
func (m *TokenMint) Replica() string {
	return m.replica
}

// NextToken mints a globally unique opaque token.
func (m *TokenMint) NextToken() string {

	m.counter++

	return fmt.Sprintf("%s-%d-%s", m.replica, m.counter, uuid.NewV4().String())
}

// Advance moves the mint counter forward so that no
// future mint reuses a counter value at or below the
// supplied one. Recovery seeds the mint this way, since
// minted versions carry no random part.
func (m *TokenMint) Advance(counter uint64) {

	if counter > m.counter {
		m.counter = counter
	}
}

// NextVersion mints a fresh register version.
func (m *TokenMint) NextVersion() Version {

	m.counter++

	return Version{
		Replica: m.replica,
		Counter: m.counter,
	}
}
