// Package crdt implements the convergent replicated data
// types minidote offers to clients: two PN-counters (an
// operation-based and a state-based one), an add-wins set
// in the style of the observed-removed set defined by
// Shapiro, Preguiça, Baquero and Zawirski, a two-phase
// set, a multi-value register and an enable-wins flag.
//
// Every type splits updates into a downstream part executed
// at the origin replica, producing an effect, and an apply
// part executed with that effect on every replica including
// the origin. Effects of the same type commute, so replicas
// that apply the same set of effects in any causally valid
// order converge to equal values.
package crdt
