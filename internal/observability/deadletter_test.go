package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeadLetterQueueEvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	at := time.Unix(0, 0)
	q.Offer("stream", "malformed frame", []byte("a"), at)
	q.Offer("stream", "malformed frame", []byte("b"), at)
	q.Offer("stream", "unknown message type", []byte("c"), at)

	letters := q.Letters()
	require.Len(t, letters, 2)
	require.Equal(t, "b", letters[0].Payload)
	require.Equal(t, "c", letters[1].Payload)
	require.Equal(t, uint64(1), q.Evicted())

	require.Len(t, q.Drain(), 2)
	require.Zero(t, q.Len())
}

func TestDeadLetterQueueTruncatesPayload(t *testing.T) {
	q := NewDeadLetterQueue(0)
	q.Offer("prices", "bad record", []byte(strings.Repeat("x", maxDeadLetterPayload+10)), time.Now())

	letter := q.Letters()[0]
	require.True(t, letter.Truncated)
	require.Len(t, letter.Payload, maxDeadLetterPayload)
}

func TestAggregateErrorsSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewStdLogger(log.New(&buf, "", 0), false))
	t.Cleanup(func() { SetLogger(nil) })

	require.NoError(t, AggregateErrors("shutdown", []error{nil, nil}))
	require.Empty(t, buf.String())

	err := AggregateErrors("shutdown", []error{nil, errors.New("inspector: timeout")})
	require.ErrorContains(t, err, "shutdown: inspector: timeout")
	require.Contains(t, buf.String(), "operation=\"shutdown\" error_count=1")
}
