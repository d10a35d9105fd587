// Package internal contains helpers private to authcore, currently the
// secure random generators for OTP codes and OAuth state nonces.
//
// # Sub-packages
//
//   - limiters - Redis fixed-window resend and cooldown policies
//   - reconcile - OAuth identity reconciliation decision table
//   - stores - TTL-backed Redis stores for verification and OAuth flows
package internal
