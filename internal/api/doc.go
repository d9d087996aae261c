// Package api provides the HTTP REST API and WebSocket server for the
// door controller.
//
// It exposes session control (start, code entry, cancel), access history,
// enrolment, the local user mirror, and system status to the wall panel
// and to administrative tooling. A WebSocket hub streams session and lock
// state changes so the panel can render progress without polling.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
