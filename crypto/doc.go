// Package crypto bundles the TLS configuration of the
// internal sync transport and ships a generator for the
// self-signed PKI a minidote cluster can run on.
package crypto
