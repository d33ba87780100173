package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/event"
)

func TestAuditLogsEvents(t *testing.T) {
	var buf bytes.Buffer
	in := make(chan event.Event, 2)
	in <- event.Event{Action: event.ActionMessageCreated, Data: []byte(`{"seq":1}`), Time: time.Unix(10, 0)}
	in <- event.Event{Action: "binary", Data: []byte{0xff, 0x00}}
	close(in)

	Audit(context.Background(), in, zerolog.New(&buf))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, event.ActionMessageCreated, first["action"])
	assert.Equal(t, map[string]any{"seq": float64(1)}, first["data"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, float64(2), second["bytes"])
}

func TestAuditStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		Audit(ctx, make(chan event.Event), zerolog.Nop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit did not stop")
	}
}
