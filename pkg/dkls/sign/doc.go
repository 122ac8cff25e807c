// Package sign implements the round state machine for DKLS23 threshold
// signing.
//
// A session moves Init → WaitMsg1 → WaitMsg2 → WaitMsg3 → Pre. The Pre round
// holds a message-independent pre-signature; supplying the 32-byte message
// digest via LastMessage produces the final broadcast message and moves the
// session to WaitMsg4, and Combine folds in the other parties' final
// messages to yield the signature. Failure at any round moves the session to
// the absorbing Failed round, and Combine consumes the session whether or
// not it succeeds.
//
// Sessions are single-owner and not safe for concurrent use.
package sign
