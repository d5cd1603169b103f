// Package ws implements the admin event feed for imagedrop-server.
//
// Hub keeps a set of connected WebSocket clients and fans out events to all
// of them: authentication failures, uploads, token reloads, plus a periodic
// "status" event carrying the current service state.
//
// New(interval, status) creates a Hub. status is called for every status
// event and may be nil.
// Hub.Run(ctx) starts the status ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.Publish(ev) broadcasts one event without blocking; clients whose
// buffer is full are disconnected.
// Hub.ServeHTTP upgrades the connection, sends a status event immediately,
// then streams events until the client goes away.
//
// Message format sent to clients:
//
//	{
//	  "event":     "upload",
//	  "time":      "2024-05-01T12:00:00Z",
//	  "client_ip": "203.0.113.7",
//	  "detail":    { ... }
//	}
//
// The endpoint is mounted at /admin/events behind the master credential.
package ws
