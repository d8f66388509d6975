// Package node implements the replica engine of minidote:
// the object store, the local vector clock, causal gating
// of client requests and the application of local and
// remote effects. All engine state is owned by a single
// actor goroutine; client calls and inbound envelopes are
// serialised through its mailbox, so no locking guards
// the object map or the clock.
package node
