package listener

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"realtimechat/event"
)

// Audit logs every consumed event until ctx is done or in is closed.
func Audit(ctx context.Context, in <-chan event.Event, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			entry := log.Info().Str("action", ev.Action).Time("emitted", ev.Time)
			if json.Valid(ev.Data) {
				entry = entry.RawJSON("data", ev.Data)
			} else {
				entry = entry.Int("bytes", len(ev.Data))
			}
			entry.Msg("event")
		}
	}
}
