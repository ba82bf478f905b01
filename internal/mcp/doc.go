// Package mcp exposes combat sessions to MCP clients.
//
// The package is a gateway, not a second rules engine: every tool and
// resource handler forwards to the combat service HTTP API and returns
// what the service decided. Tools cover the write path (create sessions,
// add participants, submit intents) and the read path (state snapshots,
// journal pages); the events resource template gives clients a stable
// URI per session journal.
package mcp
