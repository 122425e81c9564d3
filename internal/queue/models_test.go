package queue

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestOutgoingRow(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	visible, expiration := Outgoing{}.Row(now)
	assert.Equal(t, now, visible)
	assert.Equal(t, NeverExpires, expiration)

	later := now.Add(time.Minute)
	visible, expiration = Outgoing{VisibleAt: later, TTL: time.Hour}.Row(now)
	assert.Equal(t, later, visible)
	assert.Equal(t, now.Add(time.Hour), expiration)
}

func TestTruncateLeasedBy(t *testing.T) {
	assert.Equal(t, "worker-1", TruncateLeasedBy("worker-1"))

	exact := strings.Repeat("é", LeasedByMaxLength)
	assert.Equal(t, exact, TruncateLeasedBy(exact))

	id := strings.Repeat("a", LeasedByMaxLength-1) + "éé"
	got := TruncateLeasedBy(id)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, LeasedByMaxLength, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("a", LeasedByMaxLength-1)+"é", got)
}
