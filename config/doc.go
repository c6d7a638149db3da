// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and the environment. It covers the
// Execution Service listener, the sandbox resource ceilings, the Dispatcher
// and logging. Credentials are only read from the environment
// (SANDBOX_SECRET, SESSION_JWT_SECRET).
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
