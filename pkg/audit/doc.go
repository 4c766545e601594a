// Package audit provides the append-only trail of privilege-relevant
// actions: membership changes, invitation lifecycle events, tenant
// creation and deletion, and access denials.
//
// Entries are written by the other core packages. Role changes,
// membership deactivation, and invitation issuance/acceptance are
// recorded synchronously and fail the triggering operation if the
// write fails; everything else is best-effort and logged on failure.
//
// The only deletion path is the retention sweep (Purge), which callers
// must authorize separately.
package audit
