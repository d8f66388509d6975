// Package comm provides the pieces minidote replicas use
// to exchange CRDT effects: the vector clock type, the
// broadcast envelope with its wire codec, and the sender
// and receiver halves of the best-effort broadcast layer
// that fans envelopes out to all peers reported by the
// membership collaborator.
package comm
