package lease

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/uow"
)

func TestSendIsBufferedUntilCommit(t *testing.T) {
	tr, s, _ := setup(t, Options{})
	ctx := context.Background()

	u := uow.New()
	require.NoError(t, tr.Send(u, testQueue, queue.Outgoing{Body: []byte("1")}))
	require.NoError(t, tr.Send(u, testQueue, queue.Outgoing{Body: []byte("2")}))
	require.NoError(t, tr.Send(u, "audit", queue.Outgoing{Body: []byte("3")}))
	assert.Zero(t, s.Len(testQueue))

	require.NoError(t, u.Commit(ctx))
	assert.Equal(t, 2, s.Len(testQueue))
	assert.Equal(t, 1, s.Len("audit"))

	var got []string
	for {
		m, err := tr.Receive(ctx, uow.New(), testQueue)
		require.NoError(t, err)
		if m == nil {
			break
		}
		got = append(got, string(m.Body))
	}
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestAbortDiscardsSends(t *testing.T) {
	tr, s, _ := setup(t, Options{})

	u := uow.New()
	require.NoError(t, tr.Send(u, testQueue, queue.Outgoing{Body: []byte("1")}))
	require.NoError(t, u.Abort(context.Background()))

	assert.Zero(t, s.Len(testQueue))
	assert.ErrorIs(t, tr.Send(u, testQueue, queue.Outgoing{}), uow.ErrCompleted)
}

func TestSendsFlushBeforeReceivedMessageIsDeleted(t *testing.T) {
	tr, s, _ := setup(t, Options{})
	ctx := context.Background()
	sendNow(t, tr, testQueue, queue.Outgoing{Body: []byte("in")})

	u := uow.New()
	m, err := tr.Receive(ctx, u, testQueue)
	require.NoError(t, err)
	require.NoError(t, tr.Send(u, "missing-queue", queue.Outgoing{Body: []byte("out")}))

	err = u.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flushed 0 of 1")
	assert.NotNil(t, s.Get(testQueue, m.ID), "received message must survive a failed flush")
}

func TestPartialFlushIsReported(t *testing.T) {
	tr, s, _ := setup(t, Options{})

	u := uow.New()
	require.NoError(t, tr.Send(u, testQueue, queue.Outgoing{Body: []byte("1")}))
	require.NoError(t, tr.Send(u, "missing-queue", queue.Outgoing{Body: []byte("2")}))
	require.NoError(t, tr.Send(u, testQueue, queue.Outgoing{Body: []byte("3")}))

	err := u.Commit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flushed 1 of 3")
	assert.Equal(t, 1, s.Len(testQueue))
}

func TestSendRejectsEmptyAddress(t *testing.T) {
	tr, _, _ := setup(t, Options{})
	assert.Error(t, tr.Send(uow.New(), "", queue.Outgoing{}))
}

func TestEachUnitHasItsOwnBuffer(t *testing.T) {
	tr, s, _ := setup(t, Options{})
	ctx := context.Background()

	u1, u2 := uow.New(), uow.New()
	require.NoError(t, tr.Send(u1, testQueue, queue.Outgoing{Body: []byte("1")}))
	require.NoError(t, tr.Send(u2, testQueue, queue.Outgoing{Body: []byte("2")}))

	require.NoError(t, u2.Abort(ctx))
	require.NoError(t, u1.Commit(ctx))
	assert.Equal(t, 1, s.Len(testQueue))
}
