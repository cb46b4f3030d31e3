package audit

import (
	"context"

	"aegis/pkg/stream"
)

// HubSink mirrors audit events onto the in-process stream hub so websocket
// subscribers see reconcile outcomes as they happen.
type HubSink struct {
	Hub *stream.Hub
}

func (s HubSink) Record(_ context.Context, evt Event) error {
	if s.Hub == nil {
		return nil
	}
	s.Hub.Publish(stream.NewEvent("audit."+evt.Action, evt.Tenant, evt))
	return nil
}
