// Package dkls exposes the session-management layer for the DKLS23
// distributed key generation (DKG) and distributed threshold signing (DSG)
// protocols.
//
// The package holds the pieces shared by both protocols: the wire envelope
// that routes round messages between parties, the two-field error value
// surfaced to hosts, the durable keyshare artifact, seed-driven randomness,
// and the Engine capability that performs the actual cryptographic round
// computations. The round state machines themselves live in the keygen and
// sign subpackages; a pure-Go reference engine for tests and development
// lives in localengine.
//
// The layer is purely synchronous: a host drives each session by producing
// the first message, exchanging envelopes with the other parties out of
// band, and feeding the received batch back into the session until it
// reaches a terminal state. Nothing here spawns goroutines or retries; every
// failure is surfaced to the caller as a terminal outcome for that session.
package dkls
