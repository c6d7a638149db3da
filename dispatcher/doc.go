// Package dispatcher is the trusted front door for code submissions.
//
// POST /run_code verifies the caller's session token, applies a per-session
// rate limit and rejects oversized code before anything leaves the process.
// Accepted submissions are forwarded once to the Execution Service with the
// shared secret, and the downstream outcome is mapped onto the client reply:
//
//	200 from downstream        -> body passed through unchanged
//	408 from downstream        -> 408 {"error":"Execution timeout"}
//	other downstream status    -> same status, {"error":"Sandbox error","details":{...}}
//	call timeout               -> 408 {"error":"Execution timeout"}
//	downstream unreachable     -> 500 {"error":"Sandbox unavailable"}
package dispatcher
