// Package execservice is the Execution Service: the trusted boundary that
// accepts code from the Dispatcher and runs it in a disposable sandbox.
//
// Every authenticated route requires the shared secret in the
// X-Sandbox-Secret header. The secret is checked before the body is read, so
// an unauthenticated request never reaches the sandbox.
//
// Status codes of POST /execute:
//
//	200 {"output": "...", "error": "..."}  the program ran (it may have failed)
//	400 {"error": "..."}                   malformed or empty submission
//	403 {"error": "Unauthorized"}          missing or wrong secret
//	408 {"error": "Execution timeout"}     a time or CPU ceiling was hit
//	500 {"error": "..."}                   the sandbox could not be run
package execservice
