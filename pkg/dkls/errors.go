package dkls

import (
	"errors"
	"fmt"
)

// Error codes carried across the session boundary. Hosts branch on the code,
// not the text.
const (
	// CodeError is the generic failure code: boundary validation, decode
	// failures, and ordinary protocol rejections.
	CodeError int32 = 1

	// CodeAbortAndBanParty marks the one signing failure class that a host
	// must treat as "abort the protocol and permanently exclude the party"
	// rather than a simple retry.
	CodeAbortAndBanParty int32 = 2
)

// Error is the caller-visible error value: human-readable text plus a
// numeric code.
type Error struct {
	Message string
	Code    int32
}

func (e *Error) Error() string { return e.Message }

// NewError builds an Error with the given text and code.
func NewError(msg string, code int32) *Error {
	return &Error{Message: msg, Code: code}
}

// Boundary validation sentinels. All carry the generic code; they are
// detected before any engine call and never mutate session state.
var (
	ErrInvalidState             = &Error{Message: "invalid state", Code: CodeError}
	ErrFailedSession            = &Error{Message: "failed session", Code: CodeError}
	ErrKeygenInProgress         = &Error{Message: "keygen in progress", Code: CodeError}
	ErrSessionConsumed          = &Error{Message: "session consumed", Code: CodeError}
	ErrInvalidSeed              = &Error{Message: "invalid seed size", Code: CodeError}
	ErrCommitmentsRequired      = &Error{Message: "commitments required", Code: CodeError}
	ErrInvalidCommitmentsLength = &Error{Message: "invalid commitments length", Code: CodeError}
	ErrInvalidMessageHash       = &Error{Message: "invalid message hash", Code: CodeError}
	ErrInvalidPublicKey         = &Error{Message: "invalid public key", Code: CodeError}
	ErrInvalidDerivationPath    = &Error{Message: "invalid derivation path", Code: CodeError}
	ErrNilKeyshare              = &Error{Message: "nil keyshare", Code: CodeError}
	ErrNilEngine                = &Error{Message: "nil engine", Code: CodeError}
	ErrNotSerializable          = &Error{Message: "session not serializable in this round", Code: CodeError}
)

// BanPartyError is the engine-side marker for the abort-and-ban failure
// class. The sign session translates it to CodeAbortAndBanParty; everything
// else maps to the generic code.
type BanPartyError struct {
	Party  uint8
	Reason string
}

func (e *BanPartyError) Error() string {
	return fmt.Sprintf("abort protocol and ban party %d: %s", e.Party, e.Reason)
}

// RemapKeygenError converts an engine keygen failure to the public error
// value. Keygen has no ban-party class; everything is the generic code.
func RemapKeygenError(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Message: err.Error(), Code: CodeError}
}

// RemapSignError converts an engine signing failure to the public error
// value, preserving the abort-and-ban class as CodeAbortAndBanParty.
func RemapSignError(err error) error {
	if err == nil {
		return nil
	}
	var ban *BanPartyError
	if errors.As(err, &ban) {
		return &Error{Message: ban.Error(), Code: CodeAbortAndBanParty}
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Message: err.Error(), Code: CodeError}
}
