package domain

import "errors"

// Error taxonomy. Connection-layer errors are advisory: they are logged and
// reflected in component state, never thrown across component boundaries.
// Store-layer errors are returned to the caller that issued the mutation.
var (
	// ErrIdentityUnavailable means the requested network identity is taken.
	ErrIdentityUnavailable = errors.New("identity unavailable")

	// ErrPeerUnreachable means a peer did not answer within the dial timeout.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrMissingCredential blocks an agent connect before any resource is acquired.
	ErrMissingCredential = errors.New("missing agent credential")

	// ErrUnknownPlayer means the named player is not in the current roster.
	ErrUnknownPlayer = errors.New("unknown player")

	// ErrCardNotFound means a catalog lookup by name produced nothing.
	ErrCardNotFound = errors.New("card not found")

	// ErrToolDispatch wraps a failure executing an agent tool call.
	ErrToolDispatch = errors.New("tool dispatch failed")
)
