// Package invites implements the secure invitation lifecycle: issue,
// validate, accept, cancel, resend.
//
// # Overview
//
// An invitation offers membership at a specific role to an email
// address. The 256-bit token is returned to the issuer exactly once;
// only its SHA-256 hash is stored, so a database leak exposes no
// redeemable tokens. Invitations expire after a configurable window
// (7 days by default) with expiry derived at read time, never stored.
//
// Acceptance is the one operation here needing a true atomicity
// guarantee: the state transition and the membership creation happen
// in a single transaction with the invitation row locked, so of two
// racing accepts exactly one succeeds and the other sees
// ALREADY_ACCEPTED.
package invites
