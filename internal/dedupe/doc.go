// Package dedupe remembers the outcome of idempotent requests for a
// configurable window, so a client retrying with the same Idempotency-Key
// gets the original result instead of a second message.
package dedupe
