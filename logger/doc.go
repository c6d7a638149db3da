// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application. It also provides the gin request logging
// middleware shared by the Execution Service and the Dispatcher.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("Application started")
//	log.Error("An error occurred", zap.Error(err))
package logger
