package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pulse/internal/schema"
)

func messageKey(m schema.Message) string { return m.Key() }

func msg(channel string, id int64, text string) schema.Message {
	return schema.Message{ID: id, ChannelUsername: channel, Text: text}
}

func keys(items []schema.Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.Key()
	}
	return out
}

func TestUpsertIsIdempotent(t *testing.T) {
	c := NewCollection(messageKey)

	require.Equal(t, Inserted, c.Upsert(msg("a", 1, "hello")))
	before := c.Items()
	require.Equal(t, Unchanged, c.Upsert(msg("a", 1, "hello")))
	require.Equal(t, before, c.Items())
	require.Equal(t, 1, c.Len())
}

func TestUpsertPrependsNewAndReplacesInPlace(t *testing.T) {
	c := NewCollection(messageKey)
	c.Upsert(msg("a", 1, "first"))
	c.Upsert(msg("a", 2, "second"))
	c.Upsert(msg("b", 1, "third"))
	require.Equal(t, []string{"b:1", "a:2", "a:1"}, keys(c.Items()))

	require.Equal(t, Replaced, c.Upsert(msg("a", 2, "edited")))
	items := c.Items()
	require.Equal(t, []string{"b:1", "a:2", "a:1"}, keys(items), "replacement keeps position")
	require.Equal(t, "edited", items[1].Text)
}

func TestSameIDOnDifferentChannelsIsDistinct(t *testing.T) {
	c := NewCollection(messageKey)
	c.Upsert(msg("a", 1, "x"))
	c.Upsert(msg("b", 1, "x"))
	require.Equal(t, 2, c.Len())
	require.True(t, c.Contains("a:1"))
	require.True(t, c.Contains("b:1"))
}

func TestMergeAppendsOnlyUnseen(t *testing.T) {
	c := NewCollection(messageKey)
	c.Upsert(msg("a", 3, "live"))

	added := c.Merge([]schema.Message{msg("a", 3, "stale copy"), msg("a", 2, ""), msg("a", 1, ""), msg("a", 2, "dup")})
	require.Equal(t, 2, added)
	items := c.Items()
	require.Equal(t, []string{"a:3", "a:2", "a:1"}, keys(items))
	require.Equal(t, "live", items[0].Text, "merge never overwrites")
}

func TestNormalizeMessage(t *testing.T) {
	cases := []struct {
		name string
		in   schema.Message
		want schema.Message
	}{
		{
			name: "nil media becomes empty",
			in:   schema.Message{ID: 1},
			want: schema.Message{ID: 1, Media: []schema.MediaItem{}},
		},
		{
			name: "media synthesized from path",
			in:   schema.Message{ID: 1, HasMedia: true, MediaType: "photo", MediaPath: "2024/a.jpg"},
			want: schema.Message{
				ID: 1, HasMedia: true, MediaType: "photo", MediaPath: "2024/a.jpg",
				MediaURL: "/media/2024/a.jpg",
				Media:    []schema.MediaItem{{Type: "photo", URL: "/media/2024/a.jpg"}},
			},
		},
		{
			name: "path ignored without has_media",
			in:   schema.Message{ID: 1, MediaPath: "a.jpg"},
			want: schema.Message{ID: 1, MediaPath: "a.jpg", Media: []schema.MediaItem{}},
		},
		{
			name: "media url taken from first item",
			in:   schema.Message{ID: 1, Media: []schema.MediaItem{{Type: "video", URL: "https://cdn/x.mp4"}, {Type: "photo", URL: "https://cdn/y.jpg"}}},
			want: schema.Message{
				ID: 1, MediaURL: "https://cdn/x.mp4",
				Media: []schema.MediaItem{{Type: "video", URL: "https://cdn/x.mp4"}, {Type: "photo", URL: "https://cdn/y.jpg"}},
			},
		},
		{
			name: "existing media url kept",
			in:   schema.Message{ID: 1, MediaURL: "/keep", Media: []schema.MediaItem{{URL: "/other"}}},
			want: schema.Message{ID: 1, MediaURL: "/keep", Media: []schema.MediaItem{{URL: "/other"}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			once := NormalizeMessage(tc.in)
			require.Equal(t, tc.want, once)
			require.Equal(t, once, NormalizeMessage(once))
		})
	}
}

type pageServer struct {
	mu     sync.Mutex
	total  int
	calls  []int
	fail   error
	gate   chan struct{}
	served atomic.Int32
}

func (p *pageServer) FetchPage(ctx context.Context, limit, skip int) ([]schema.Message, error) {
	p.mu.Lock()
	p.calls = append(p.calls, skip)
	fail := p.fail
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	p.served.Add(1)
	if fail != nil {
		return nil, fail
	}
	var page []schema.Message
	for i := skip; i < skip+limit && i < p.total; i++ {
		page = append(page, msg("a", int64(p.total-i), ""))
	}
	return page, nil
}

func TestLoaderStopsAfterShortPage(t *testing.T) {
	server := &pageServer{total: 45}
	l := NewLoader(NewCollection(messageKey), server, LoaderConfig[schema.Message]{Name: "messages", PageSize: 20})

	for _, want := range []int{20, 20, 5} {
		added, err := l.LoadMore(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, added)
	}
	require.True(t, l.Exhausted())

	added, err := l.LoadMore(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, []int{0, 20, 40}, server.calls, "no request after exhaustion")
	require.Equal(t, 45, l.Items().Len())
}

func TestLoaderFailureLeavesStateIntact(t *testing.T) {
	server := &pageServer{total: 100}
	l := NewLoader(NewCollection(messageKey), server, LoaderConfig[schema.Message]{Name: "news", PageSize: 20})
	_, err := l.LoadMore(context.Background())
	require.NoError(t, err)

	boom := errors.New("boom")
	server.fail = boom
	added, err := l.LoadMore(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, added)
	require.False(t, l.Loading())
	require.False(t, l.Exhausted())
	require.Equal(t, 20, l.Items().Len())

	server.fail = nil
	added, err = l.LoadMore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, added)
	require.Equal(t, []int{0, 20, 20}, server.calls)
}

func TestLoaderSkipsWhileInFlight(t *testing.T) {
	server := &pageServer{total: 100, gate: make(chan struct{})}
	var changes atomic.Int32
	l := NewLoader(NewCollection(messageKey), server, LoaderConfig[schema.Message]{
		Name:     "messages",
		OnChange: func() { changes.Add(1) },
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.LoadMore(context.Background())
	}()
	require.Eventually(t, l.Loading, time.Second, time.Millisecond)

	added, err := l.LoadMore(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)

	close(server.gate)
	<-done
	require.False(t, l.Loading())
	require.EqualValues(t, 1, server.served.Load())
	require.EqualValues(t, 2, changes.Load())
}

func TestLoaderNormalizesFetchedItems(t *testing.T) {
	fetcher := PageFetcherFunc[schema.Message](func(ctx context.Context, limit, skip int) ([]schema.Message, error) {
		return []schema.Message{{ID: 1, ChannelUsername: "a", HasMedia: true, MediaPath: "p.png", MediaType: "photo"}}, nil
	})
	l := NewLoader(NewCollection(messageKey), fetcher, LoaderConfig[schema.Message]{Normalize: NormalizeMessage})
	_, err := l.LoadMore(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/media/p.png", l.Items().Items()[0].MediaURL)
	require.True(t, l.Exhausted())
}

func TestLoaderConcurrentCallersStopAtExhaustion(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int32
	fetcher := PageFetcherFunc[schema.Message](func(ctx context.Context, limit, skip int) ([]schema.Message, error) {
		fetches.Add(1)
		<-release
		return []schema.Message{msg("a", 1, "")}, nil
	})
	l := NewLoader(NewCollection(messageKey), fetcher, LoaderConfig[schema.Message]{Name: "messages", PageSize: 20})

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = l.LoadMore(context.Background())
	}()
	require.Eventually(t, l.Loading, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !l.Exhausted() || l.Loading() {
				_, _ = l.LoadMore(context.Background())
			}
			_, _ = l.LoadMore(context.Background())
		}()
	}

	close(release)
	<-first
	wg.Wait()
	require.True(t, l.Exhausted())
	require.False(t, l.Loading())
	require.EqualValues(t, 1, fetches.Load(), "no page is requested once the feed is exhausted")
	require.Equal(t, 1, l.Items().Len())
}
