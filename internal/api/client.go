// Package api is the request/response client for the market data service backfill endpoints.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/schema"
)

const (
	messagesPath  = "/api/v1/messages"
	newsPath      = "/api/v1/news"
	historyPath   = "/api/v1/history/"
	sentimentPath = "/api/v1/sentiment/fear-greed"

	maxBodyBytes = 8 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client issues paced GET requests against the service.
type Client struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	metrics *apiMetrics
}

// NewClient constructs a client for baseURL.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = new(http.Client)
		client.Timeout = opts.Timeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		limiter: rate.NewLimiter(limit, burst),
		metrics: newAPIMetrics(),
	}
}

// Messages returns one page of feed messages, newest first.
func (c *Client) Messages(ctx context.Context, limit, skip int) ([]schema.Message, error) {
	var out []schema.Message
	if err := c.get(ctx, messagesPath, pageQuery(limit, skip), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// News returns one page of news articles, newest first.
func (c *Client) News(ctx context.Context, limit, skip int) ([]schema.Article, error) {
	var out []schema.Article
	if err := c.get(ctx, newsPath, pageQuery(limit, skip), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the stored series for symbol over period (for example "1h").
func (c *Client) History(ctx context.Context, symbol, period string) ([]schema.HistoryPoint, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, errs.New("api", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	query := url.Values{}
	if period != "" {
		query.Set("period", period)
	}
	var out schema.HistoryResponse
	if err := c.get(ctx, historyPath+url.PathEscape(symbol), query, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// Sentiment returns the current fear and greed reading. A payload carrying an error
// field is reported as CodeUnavailable.
func (c *Client) Sentiment(ctx context.Context) (schema.Sentiment, error) {
	var out schema.Sentiment
	if err := c.get(ctx, sentimentPath, nil, &out); err != nil {
		return schema.Sentiment{}, err
	}
	if out.Error != "" {
		return schema.Sentiment{}, errs.New("api", errs.CodeUnavailable,
			errs.WithMessage(out.Error), errs.WithField("endpoint", sentimentPath))
	}
	return out, nil
}

func pageQuery(limit, skip int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("skip", strconv.Itoa(skip))
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	start := time.Now()
	err := c.do(ctx, path, query, out)
	c.metrics.recordRequest(ctx, endpointLabel(path), time.Since(start), err)
	return err
}

func (c *Client) do(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New("api", errs.CodeNetwork,
			errs.WithMessage("request not sent"), errs.WithField("endpoint", path), errs.WithCause(err))
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errs.New("api", errs.CodeInvalid,
			errs.WithMessage("create request"), errs.WithField("endpoint", path), errs.WithCause(err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errs.New("api", errs.CodeNetwork,
			errs.WithMessage("request failed"), errs.WithField("endpoint", path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := errs.CodeUnavailable
		if resp.StatusCode == http.StatusNotFound {
			code = errs.CodeNotFound
		}
		return errs.New("api", code,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("unexpected status %d", resp.StatusCode)),
			errs.WithField("endpoint", path))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errs.New("api", errs.CodeNetwork,
			errs.WithMessage("read body"), errs.WithField("endpoint", path), errs.WithCause(err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New("api", errs.CodeDecode,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("decode body"), errs.WithField("endpoint", path), errs.WithCause(err))
	}
	return nil
}

func endpointLabel(path string) string {
	if strings.HasPrefix(path, historyPath) {
		return historyPath + ":symbol"
	}
	return path
}
