// Package main is the entry point for the runbox services.
//
// One binary carries both network roles:
//
//	runbox exec      Execution Service: POST /execute and /mcp behind the shared secret
//	runbox dispatch  Dispatcher: POST /run_code for signed-in callers
//	runbox config    print the effective configuration with secrets redacted
//	runbox token     mint a session token for local testing
//
// The services use Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
