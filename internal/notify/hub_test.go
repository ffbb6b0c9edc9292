package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	hub := NewHub[int](4)
	defer hub.Close()

	_, a := hub.Subscribe(context.Background())
	_, b := hub.Subscribe(context.Background())
	require.Equal(t, 2, hub.Publish(1))
	require.Equal(t, []int{1}, drain(a))
	require.Equal(t, []int{1}, drain(b))
}

func TestFullBufferKeepsNewest(t *testing.T) {
	hub := NewHub[int](2)
	defer hub.Close()

	_, ch := hub.Subscribe(context.Background())
	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}
	require.Equal(t, []int{4, 5}, drain(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub[string](1)
	defer hub.Close()

	id, ch := hub.Subscribe(context.Background())
	hub.Unsubscribe(id)
	hub.Unsubscribe(id)

	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, hub.Publish("late"))
	require.Zero(t, hub.Len())
}

func TestContextCancellationEndsSubscription(t *testing.T) {
	hub := NewHub[int](1)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, ch := hub.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	hub := NewHub[int](1)
	_, a := hub.Subscribe(context.Background())
	hub.Close()
	hub.Close()

	_, ok := <-a
	require.False(t, ok)

	_, late := hub.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok)
}
