// Package keygen implements the round state machine for DKLS23 distributed
// key generation, key rotation, key refresh, and lost-share recovery.
//
// A session moves Init → WaitMsg1 → WaitMsg2 → WaitMsg3 → WaitMsg4 and
// terminates in either Share (holding the completed keyshare) or the
// absorbing Failed round. The host produces the first broadcast message with
// CreateFirstMessage, then repeatedly feeds every other party's messages to
// HandleMessages. Before round 3 the host exchanges each party's 32-byte
// Commitment2 value out of band and supplies the concatenated commitments to
// the round-3 advance. Keyshare extracts the terminal artifact and consumes
// the session.
//
// Sessions are single-owner and not safe for concurrent use.
package keygen
