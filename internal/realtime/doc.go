// Package realtime maintains one logical push connection to the backend
// and dispatches inbound events to registered handlers.
//
// A Channel moves through Disconnected, Connecting and Connected. A
// failed dial or a dropped connection schedules a reconnect after
// Backoff.Delay(attempts); once MaxAttempts reconnects have failed the
// channel stays Disconnected until the next explicit Connect.
//
// Handlers are registered per EventType on a Bus and run synchronously,
// in registration order, on the channel's reader goroutine. A failing or
// panicking handler is logged and skipped; it never stops the remaining
// handlers and never touches the connection.
//
// The wire format is a JSON envelope:
//
//	{"type":"task_update","data":{...},"senderId":"op-1","timestamp":"2026-03-14T09:00:00Z"}
package realtime
