// Package api provides the HTTP REST API and WebSocket server for VoltLink
// Core.
//
// It exposes the device registry, live port status, switching commands,
// discovery, and the legacy record migration to user interfaces and local
// integrations.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
