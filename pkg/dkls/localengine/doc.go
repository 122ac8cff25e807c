// Package localengine is an in-process reference implementation of the
// dkls.Engine capability, built on Feldman verifiable secret sharing over
// secp256k1.
//
// It implements the full message flow of the session layer — distributed key
// generation, key rotation, refresh, lost-share recovery, and threshold
// signing — with honest-majority, semi-honest security only: signing reveals
// per-party nonces to the quorum, which a malicious member could use to
// recover other members' share contributions. It is intended for tests,
// demos, and as the reference against which hardened engines are validated,
// not for production signing.
//
// All randomness is drawn from the io.Reader supplied per call, so seeded
// runs are bit-reproducible.
package localengine
