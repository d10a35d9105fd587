// Package stores provides Redis-backed, short-lived record stores for the
// verification and OAuth flows: OTP codes with bounded attempt counters,
// lockout markers, single-use OAuth state nonces, and seller onboarding
// progress.
//
// Every record is TTL-backed, so the absence of a key always reads as the
// clear state and crash recovery needs no sweeping. Stored secrets are
// hashed; nothing in this package logs or returns a plaintext code.
package stores
