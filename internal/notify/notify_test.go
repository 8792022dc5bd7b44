package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrade/escrowd/internal/escrow"
)

func TestRecorderCapturesInOrder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Notify(ctx, escrow.Notification{RecipientID: "u-1", Type: escrow.NotifyItemShipped}))
	require.NoError(t, r.Notify(ctx, escrow.Notification{RecipientID: "u-2", Type: escrow.NotifyItemShipped}))

	sent := r.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "u-1", sent[0].RecipientID)
	assert.Equal(t, "u-2", sent[1].RecipientID)

	// Sent returns a copy; mutating it must not affect the recorder.
	sent[0].RecipientID = "mutated"
	assert.Equal(t, "u-1", r.Sent()[0].RecipientID)

	r.Reset()
	assert.Empty(t, r.Sent())
}

func TestLogNotifierWritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := &Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := l.Notify(context.Background(), escrow.Notification{
		RecipientID: "u-1",
		Type:        escrow.NotifyItemDelivered,
		Context: map[string]string{
			"transaction_id": "txn-1",
			"to_status":      "delivered",
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "recipient=u-1")
	assert.Contains(t, out, "type=escrow.item_delivered")
	assert.Contains(t, out, "transaction=txn-1")
}
