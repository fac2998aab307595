// Package ws implements the WebSocket hub that streams live alerts.
//
// Clients connect to /ws/stream, optionally narrowing the stream with
// ?severity=critical,warning&source=node. The current view is sent at
// once; afterwards a frame is sent on a tick only when the client's view
// changed. Sending a JSON Subscription frame ({"severity": [...],
// "source": [...]}) replaces the filter and triggers a fresh view; an
// invalid frame is answered with an "error" event.
//
//	{
//	  "event": "alerts",
//	  "data":  {"alerts": [...], "counts": {"firing": 2}, "generated_at": "..."}
//	}
//
// The upgrader accepts all origins.
package ws
