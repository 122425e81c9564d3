package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqlease/internal/api"
	"github.com/aridsondez/sqlease/internal/clock"
	"github.com/aridsondez/sqlease/internal/lease"
	"github.com/aridsondez/sqlease/internal/queue/store/memory"
)

func newTestClient(t *testing.T) (*Client, *memory.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clk := clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	s := memory.New(clk)
	require.NoError(t, s.CreateTable(context.Background(), "emails"))

	tr, err := lease.New(s, lease.Options{Clock: clk, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(tr.Close)

	srv := api.NewServer("", tr, api.NewReceipts(time.Minute, clk, logger), clk, logger)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), s
}

func TestRoundTrip(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, "emails", map[string]string{"to": "x@y.z"}, &SendOptions{
		Headers:  map[string]string{"kind": "welcome"},
		Priority: 3,
	}))
	require.NoError(t, c.Send(ctx, "emails", "low", nil))

	m, err := c.Receive(ctx, "emails")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.JSONEq(t, `{"to":"x@y.z"}`, string(m.Body))
	assert.Equal(t, "welcome", m.Headers["kind"])
	assert.Equal(t, 3, m.Priority)

	require.NoError(t, c.Renew(ctx, m.Receipt))
	require.NoError(t, c.Ack(ctx, m.Receipt))
	assert.ErrorIs(t, c.Ack(ctx, m.Receipt), ErrReceiptNotFound)

	low, err := c.Receive(ctx, "emails")
	require.NoError(t, err)
	require.NotNil(t, low)
	require.NoError(t, c.Release(ctx, low.Receipt))
	assert.Equal(t, 1, s.Len("emails"))
}

func TestReceiveEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	m, err := c.Receive(context.Background(), "emails")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSendToMissingQueue(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Send(context.Background(), "nope", 1, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReceiptNotFound)
}
