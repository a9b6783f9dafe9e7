package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfi/finagent/pkg/ledger"
)

func TestDispatcherAuditsDelivery(t *testing.T) {
	store := ledger.NewMemory()
	gateway := NewLogGateway(nil)
	d := NewDispatcher(gateway, store, 0, nil)

	id, err := d.Send(context.Background(), "ev-1", "finance-review", "please review", []Action{
		{Label: "Approve", Value: "approve:d-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := store.Query(context.Background(), ledger.Filter{Type: ledger.EntryNotification})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var rec Record
	require.NoError(t, json.Unmarshal(entries[0].Payload, &rec))
	assert.True(t, rec.Delivered)
	assert.Equal(t, id, rec.NotificationID)
	assert.Equal(t, "ev-1", rec.EventID)
	require.Len(t, rec.Actions, 1)
	assert.Equal(t, "approve:d-1", rec.Actions[0].Value)
}

type failingGateway struct{}

func (failingGateway) Send(ctx context.Context, channel, message string, actions []Action) (string, error) {
	return "", errors.New("slack is down")
}

func TestDispatcherAuditsFailure(t *testing.T) {
	store := ledger.NewMemory()
	d := NewDispatcher(failingGateway{}, store, 0, nil)

	_, err := d.Send(context.Background(), "ev-1", "finance-review", "please review", nil)
	require.Error(t, err)

	entries, qerr := store.Query(context.Background(), ledger.Filter{Type: ledger.EntryNotification})
	require.NoError(t, qerr)
	require.Len(t, entries, 1)

	var rec Record
	require.NoError(t, json.Unmarshal(entries[0].Payload, &rec))
	assert.False(t, rec.Delivered)
	assert.Contains(t, rec.Error, "slack is down")
}

func TestLogGatewayRecordsSends(t *testing.T) {
	g := NewLogGateway(nil)
	_, err := g.Send(context.Background(), "ops", "hello", nil)
	require.NoError(t, err)
	require.Len(t, g.Sent(), 1)
	assert.Equal(t, "ops", g.Sent()[0].Channel)
}
