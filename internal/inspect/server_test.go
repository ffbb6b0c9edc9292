package inspect

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/chart"
	"github.com/coachpo/pulse/internal/dashboard"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/prices"
	"github.com/coachpo/pulse/internal/stream"
	"github.com/coachpo/pulse/internal/view"
)

type stubSource struct {
	state   dashboard.State
	charts  map[string]chart.View
	letters []observability.DeadLetter
	calls   []string
	added   int
}

func (s *stubSource) DeadLetters() []observability.DeadLetter { return s.letters }

func (s *stubSource) State() dashboard.State { return s.state }

func (s *stubSource) Chart(symbol string) (chart.View, error) {
	v, ok := s.charts[symbol]
	if !ok {
		return chart.View{}, errs.New("dashboard", errs.CodeNotFound, errs.WithMessage("chart not open"))
	}
	return v, nil
}

func (s *stubSource) SetFilter(mode string) error {
	if mode != "all" && mode != "gainers" && mode != "losers" {
		return errs.New("view", errs.CodeInvalid, errs.WithMessage("unknown filter"))
	}
	s.calls = append(s.calls, "filter:"+mode)
	s.state.View.Filter = view.FilterMode(mode)
	return nil
}

func (s *stubSource) SetSearch(query string) {
	s.calls = append(s.calls, "search:"+query)
	s.state.View.Search = query
}

func (s *stubSource) SetSort(key string) error {
	parsed, err := view.ParseSortKey(key)
	if err != nil {
		return err
	}
	s.calls = append(s.calls, "sort:"+key)
	s.state.View.Sort = parsed
	return nil
}

func (s *stubSource) ToggleExpand(symbol string, open bool) {
	if open {
		s.calls = append(s.calls, "expand:"+symbol)
		return
	}
	s.calls = append(s.calls, "collapse:"+symbol)
}

func (s *stubSource) OpenChart(_ context.Context, symbol string) error {
	if s.state.Connection.State == stream.StateTerminal {
		return errs.New("dashboard", errs.CodeUnavailable, errs.WithMessage("dashboard not running"))
	}
	s.calls = append(s.calls, "open:"+symbol)
	if s.charts == nil {
		s.charts = make(map[string]chart.View)
	}
	s.charts[symbol] = chart.View{Symbol: symbol, Resolution: chart.Res1h, Open: true}
	return nil
}

func (s *stubSource) CloseChart(symbol string) {
	s.calls = append(s.calls, "close:"+symbol)
	delete(s.charts, symbol)
}

func (s *stubSource) SetChartResolution(_ context.Context, symbol, res string) error {
	parsed, err := chart.ParseResolution(res)
	if err != nil {
		return err
	}
	v, ok := s.charts[symbol]
	if !ok {
		return errs.New("dashboard", errs.CodeNotFound, errs.WithMessage("chart not open"))
	}
	v.Resolution = parsed
	s.charts[symbol] = v
	s.calls = append(s.calls, "resolution:"+symbol+":"+res)
	return nil
}

func (s *stubSource) LoadMoreMessages(context.Context) (int, error) {
	s.calls = append(s.calls, "more:messages")
	return s.added, nil
}

func (s *stubSource) LoadMoreNews(context.Context) (int, error) {
	s.calls = append(s.calls, "more:news")
	return s.added, nil
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	return send(t, srv, http.MethodGet, path, "")
}

func send(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthReflectsConnection(t *testing.T) {
	src := stubSource{state: dashboard.State{
		Connection: stream.Status{State: stream.StateConnected},
		Rows:       []prices.Quote{{Symbol: "BTC"}},
	}}
	rec := get(t, NewServer(&src, Options{}), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["symbols"])

	src.state.Connection.State = stream.StateTerminal
	rec = get(t, NewServer(&src, Options{}), "/api/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
}

func TestStateEndpointServesSnapshot(t *testing.T) {
	src := stubSource{state: dashboard.State{
		Rows:         []prices.Quote{{Symbol: "ETH", Price: decimal.NewFromInt(3000)}},
		PriceVersion: 4,
	}}
	rec := get(t, NewServer(&src, Options{}), "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rows []struct {
			Symbol string `json:"symbol"`
		} `json:"rows"`
		PriceVersion uint64 `json:"priceVersion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	require.Equal(t, "ETH", body.Rows[0].Symbol)
	require.Equal(t, uint64(4), body.PriceVersion)
}

func TestChartEndpoint(t *testing.T) {
	src := stubSource{charts: map[string]chart.View{
		"BTC": {Symbol: "BTC", Resolution: chart.Res1h, Open: true},
	}}
	srv := NewServer(&src, Options{})

	rec := get(t, srv, "/api/chart/BTC")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"BTC"`)

	rec = get(t, srv, "/api/chart/btc")
	require.Equal(t, http.StatusNotFound, rec.Code, "symbols are case sensitive")

	rec = get(t, srv, "/api/chart/DOGE")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "DOGE")
}

func TestDeadLettersEndpoint(t *testing.T) {
	src := stubSource{letters: []observability.DeadLetter{{Source: "stream", Reason: "malformed frame", Payload: "{"}}}
	rec := get(t, NewServer(&src, Options{}), "/api/dead-letters")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                        `json:"count"`
		Letters []observability.DeadLetter `json:"letters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "malformed frame", body.Letters[0].Reason)
}

func TestViewActions(t *testing.T) {
	src := stubSource{}
	srv := NewServer(&src, Options{})

	rec := send(t, srv, http.MethodPut, "/api/view/filter", `{"mode":"losers"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"losers"`)

	rec = send(t, srv, http.MethodPut, "/api/view/filter", `{"mode":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, srv, http.MethodPut, "/api/view/search", `{"query":"et"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, srv, http.MethodPut, "/api/view/sort", `{"key":"price"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sort":"price"`)

	rec = send(t, srv, http.MethodPut, "/api/view/sort", `{"key":"market_cap"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, srv, http.MethodPut, "/api/view/sort", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, send(t, srv, http.MethodPut, "/api/view/expanded/ETH", "").Code)
	require.Equal(t, http.StatusOK, send(t, srv, http.MethodDelete, "/api/view/expanded/ETH", "").Code)

	require.Equal(t, []string{
		"filter:losers", "search:et", "sort:price", "expand:ETH", "collapse:ETH",
	}, src.calls)
}

func TestChartActions(t *testing.T) {
	src := stubSource{}
	srv := NewServer(&src, Options{})

	rec := get(t, srv, "/api/chart/SOL")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, srv, http.MethodPost, "/api/chart/SOL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"SOL"`)
	require.Equal(t, http.StatusOK, get(t, srv, "/api/chart/SOL").Code)

	rec = send(t, srv, http.MethodPut, "/api/chart/SOL/resolution", `{"resolution":"24h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, chart.Res24h, src.charts["SOL"].Resolution)

	rec = send(t, srv, http.MethodPut, "/api/chart/SOL/resolution", `{"resolution":"2w"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, srv, http.MethodPut, "/api/chart/DOGE/resolution", `{"resolution":"24h"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusNoContent, send(t, srv, http.MethodDelete, "/api/chart/SOL", "").Code)
	require.Equal(t, http.StatusNotFound, get(t, srv, "/api/chart/SOL").Code)

	src.state.Connection.State = stream.StateTerminal
	rec = send(t, srv, http.MethodPost, "/api/chart/SOL", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoadMoreFeeds(t *testing.T) {
	src := stubSource{added: 3}
	srv := NewServer(&src, Options{})

	rec := send(t, srv, http.MethodPost, "/api/feeds/news/more", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Feed  string `json:"feed"`
		Added int    `json:"added"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "news", body.Feed)
	require.Equal(t, 3, body.Added)

	require.Equal(t, http.StatusOK, send(t, srv, http.MethodPost, "/api/feeds/messages/more", "").Code)
	require.Equal(t, http.StatusNotFound, send(t, srv, http.MethodPost, "/api/feeds/tweets/more", "").Code)
	require.Equal(t, []string{"more:news", "more:messages"}, src.calls)
}
