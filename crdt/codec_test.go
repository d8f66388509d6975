package crdt

import (
	"reflect"
	"testing"
)

// Functions

// TestEffectCodecCarriesTokens checks that an add-wins
// effect survives the wire codec with its tokens intact
// and still applies correctly on the other side.
func TestEffectCodecCarriesTokens(t *testing.T) {

	mint := NewTokenMint("worker-1")
	origin := NewAWSet()

	eff, err := origin.Downstream(Operation{Name: OpAddAll, Arg: []string{"a", "b"}}, mint)
	if err != nil {
		t.Fatalf("Expected downstream of add_all to succeed but got: %v", err)
	}

	data, err := EncodeEffect(eff)
	if err != nil {
		t.Fatalf("Expected effect encoding to succeed but got: %v", err)
	}

	decoded, err := DecodeEffect(data)
	if err != nil {
		t.Fatalf("Expected effect decoding to succeed but got: %v", err)
	}

	remote := NewAWSet()
	if err := remote.Apply(decoded); err != nil {
		t.Fatalf("Expected apply of decoded effect to succeed but got: %v", err)
	}

	if !reflect.DeepEqual(remote.Value(), []string{"a", "b"}) {
		t.Fatalf("Expected decoded effect to add both elements, but Value() returned %v", remote.Value())
	}

	// Garbage must be rejected, not applied.
	if _, err := DecodeEffect([]byte{'?', 0x01}); err == nil {
		t.Fatalf("Expected decoding of unknown discriminator to fail but it succeeded")
	}
}

// TestStateCodecRoundTrip checks that a register state
// with concurrent values survives the snapshot codec.
func TestStateCodecRoundTrip(t *testing.T) {

	mintA := NewTokenMint("worker-1")
	mintB := NewTokenMint("worker-2")

	r := NewMVRegister()

	effA, err := r.Downstream(Operation{Name: OpAssign, Arg: "left"}, mintA)
	if err != nil {
		t.Fatalf("Expected downstream of assign to succeed but got: %v", err)
	}
	if err := r.Apply(effA); err != nil {
		t.Fatalf("Expected apply to succeed but got: %v", err)
	}

	effB, err := NewMVRegister().Downstream(Operation{Name: OpAssign, Arg: "right"}, mintB)
	if err != nil {
		t.Fatalf("Expected downstream of assign to succeed but got: %v", err)
	}
	if err := r.Apply(effB); err != nil {
		t.Fatalf("Expected apply to succeed but got: %v", err)
	}

	data, err := EncodeState(r)
	if err != nil {
		t.Fatalf("Expected state encoding to succeed but got: %v", err)
	}

	decoded, err := DecodeState(data)
	if err != nil {
		t.Fatalf("Expected state decoding to succeed but got: %v", err)
	}

	if decoded.Tag() != TypeMVRegister {
		t.Fatalf("Expected decoded state to be a register but Tag() returned %s", decoded.Tag())
	}

	if !decoded.Equal(r) {
		t.Fatalf("Expected decoded state to equal the original but states differ")
	}
}

// TestNewRejectsUnknownTag checks the dispatch on type
// tags.
func TestNewRejectsUnknownTag(t *testing.T) {

	for _, tag := range []string{TypePNCounterOp, TypePNCounterState, TypeAWSet, TypeTPSet, TypeMVRegister, TypeEWFlag} {

		s, err := New(tag)
		if err != nil {
			t.Fatalf("Expected New(%s) to succeed but got: %v", tag, err)
		}
		if s.Tag() != tag {
			t.Fatalf("Expected state of tag %s but Tag() returned %s", tag, s.Tag())
		}
	}

	if _, err := New("g-set"); err == nil {
		t.Fatalf("Expected New of unregistered tag to fail but it succeeded")
	}
}
