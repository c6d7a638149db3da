// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes tools
// for code execution. It uses the mark3labs/mcp-go library to handle the
// protocol details and provides the execute_sandboxed_code tool as an
// alternative front end to POST /execute.
//
// Only the streamable HTTP transport is offered, and it is mounted by the
// Execution Service behind its shared-secret check. A stdio transport would
// have no way to carry that credential.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, service)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	router := execservice.NewRouter(execservice.RouterParams{MCP: server.HTTPHandler(), ...})
package mcpserver
