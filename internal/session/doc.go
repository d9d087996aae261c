// Package session drives one authentication attempt from code entry to
// an accept or reject decision.
//
// The Sequencer is a finite-state machine advanced once per tick by the
// Runner's loop. Each Advance call makes at most one increment of
// progress and never blocks, with one deliberate exception: the remote
// verification call, which happens at most once per session and is
// bounded by the backend client's request timeout.
//
// Hardware exclusivity goes through the lease manager. A session owns
// at most one lease per resource, the camera is never held together
// with the fingerprint sensor, and every exit path (completion,
// failure, cancellation) releases everything the session holds.
package session
