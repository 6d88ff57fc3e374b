// Package mcp bridges Model Context Protocol servers into agentbus.
//
// A Bridge connects to one server, performs the initialize handshake and
// discovers the server's tools and prompts. Each tool becomes an agent whose
// input schema is derived from the tool's JSON schema, so arguments are
// validated and coerced before the request leaves the process. The bridge
// agent itself is a container: hand it to a prompt agent as a tool and the
// prompt agent sees the server's tools.
//
//	bridge, err := mcp.Connect(ctx, mcp.ServerConfig{
//		Name:    "sqlite",
//		Command: "uvx",
//		Args:    []string{"mcp-server-sqlite", "--db-path", "test.db"},
//	})
//	if err != nil {
//		return err
//	}
//	defer bridge.Shutdown(ctx)
//
// Transports:
//   - stdio: newline-delimited JSON-RPC over a child process
//   - sse: HTTP+SSE, requests posted to the announced endpoint
//   - websocket: one JSON-RPC frame per text message
//
// Errors: JSON-RPC error responses surface as *core.ProtocolError, lost or
// failed connections as *core.ConnectionError. A tool that reports isError
// returns normally; use ToolError to turn such a result into an error.
package mcp
