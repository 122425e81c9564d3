package queue

import (
	"time"
	"unicode/utf8"
)

// LeasedByMaxLength is the size of the leasedby column.
const LeasedByMaxLength = 200

// NeverExpires is the expiration stored for messages without a TTL.
var NeverExpires = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Message is a queue row mapped to Go.
type Message struct {
	ID          int64
	Headers     map[string]string
	Body        []byte
	Priority    int
	Visible     time.Time
	Expiration  time.Time
	LeasedUntil *time.Time
	LeasedBy    *string
	LeasedAt    *time.Time
}

// Outgoing is a message waiting to be inserted into a queue table.
type Outgoing struct {
	Headers  map[string]string
	Body     []byte
	Priority int
	// VisibleAt delays delivery; zero means visible immediately.
	VisibleAt time.Time
	// TTL bounds how long the message stays receivable; zero means forever.
	TTL time.Duration
}

// Addressed pairs an outgoing message with its destination queue.
type Addressed struct {
	Address string
	Message Outgoing
}

// ClaimOptions controls a single lease claim.
type ClaimOptions struct {
	Now           time.Time
	LeaseInterval time.Duration
	Tolerance     time.Duration
	LeasedBy      string
}

// Row returns the values an Outgoing message is inserted with.
func (o Outgoing) Row(now time.Time) (visible, expiration time.Time) {
	visible = now
	if !o.VisibleAt.IsZero() {
		visible = o.VisibleAt.UTC()
	}
	expiration = NeverExpires
	if o.TTL > 0 {
		expiration = now.Add(o.TTL)
	}
	return visible, expiration
}

// TruncateLeasedBy cuts id to LeasedByMaxLength characters. The column
// counts characters, so the cut never splits a rune.
func TruncateLeasedBy(id string) string {
	if utf8.RuneCountInString(id) <= LeasedByMaxLength {
		return id
	}
	n := 0
	for i := range id {
		if n == LeasedByMaxLength {
			return id[:i]
		}
		n++
	}
	return id
}
