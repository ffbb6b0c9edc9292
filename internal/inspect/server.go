// Package inspect serves dashboard state over HTTP for local debugging, along with
// the view and chart actions a display would issue.
package inspect

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/coachpo/pulse/errs"
	"github.com/coachpo/pulse/internal/chart"
	"github.com/coachpo/pulse/internal/dashboard"
	"github.com/coachpo/pulse/internal/observability"
	"github.com/coachpo/pulse/internal/stream"
)

// Source is the state the inspector exposes and the actions it forwards.
type Source interface {
	State() dashboard.State
	Chart(symbol string) (chart.View, error)
	DeadLetters() []observability.DeadLetter

	SetFilter(mode string) error
	SetSearch(query string)
	SetSort(key string) error
	ToggleExpand(symbol string, open bool)
	OpenChart(ctx context.Context, symbol string) error
	CloseChart(symbol string)
	SetChartResolution(ctx context.Context, symbol, res string) error
	LoadMoreMessages(ctx context.Context) (int, error)
	LoadMoreNews(ctx context.Context) (int, error)
}

// Options configures the inspector.
type Options struct {
	Addr   string
	Debug  bool
	Logger observability.Logger
}

// Server is the inspector HTTP server.
type Server struct {
	source Source
	logger observability.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router. Nothing listens until Serve or ListenAndServe.
func NewServer(source Source, opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Log()
	}

	s := &Server{source: source, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/state", s.getState)
	api.GET("/chart/:symbol", s.getChart)
	api.GET("/dead-letters", s.getDeadLetters)

	api.PUT("/view/filter", s.putFilter)
	api.PUT("/view/search", s.putSearch)
	api.PUT("/view/sort", s.putSort)
	api.PUT("/view/expanded/:symbol", s.expand(true))
	api.DELETE("/view/expanded/:symbol", s.expand(false))

	api.POST("/chart/:symbol", s.openChart)
	api.DELETE("/chart/:symbol", s.closeChart)
	api.PUT("/chart/:symbol/resolution", s.putResolution)

	api.POST("/feeds/:feed/more", s.loadMore)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe listens on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errs.New("inspect", errs.CodeUnavailable,
			errs.WithMessage("listen failed"), errs.WithField("addr", s.http.Addr), errs.WithCause(err))
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("inspector listening", observability.F("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealth(c *gin.Context) {
	st := s.source.State()
	status := "ok"
	if st.Connection.State != stream.StateConnected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"connection":  st.Connection,
		"symbols":     len(st.Rows),
		"last_update": st.LastUpdate,
	})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.State())
}

func (s *Server) getChart(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	view, err := s.source.Chart(symbol)
	if err != nil {
		writeError(c, err, gin.H{"symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, view)
}

type viewRequest struct {
	Mode       string `json:"mode"`
	Query      string `json:"query"`
	Key        string `json:"key"`
	Resolution string `json:"resolution"`
}

func (s *Server) putFilter(c *gin.Context) {
	req, ok := decodeRequest(c)
	if !ok {
		return
	}
	if err := s.source.SetFilter(req.Mode); err != nil {
		writeError(c, err, gin.H{"mode": req.Mode})
		return
	}
	c.JSON(http.StatusOK, s.source.State().View)
}

func (s *Server) putSearch(c *gin.Context) {
	req, ok := decodeRequest(c)
	if !ok {
		return
	}
	s.source.SetSearch(req.Query)
	c.JSON(http.StatusOK, s.source.State().View)
}

func (s *Server) putSort(c *gin.Context) {
	req, ok := decodeRequest(c)
	if !ok {
		return
	}
	if err := s.source.SetSort(req.Key); err != nil {
		writeError(c, err, gin.H{"key": req.Key})
		return
	}
	c.JSON(http.StatusOK, s.source.State().View)
}

func (s *Server) expand(open bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.source.ToggleExpand(strings.TrimSpace(c.Param("symbol")), open)
		c.JSON(http.StatusOK, s.source.State().View)
	}
}

func (s *Server) openChart(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if err := s.source.OpenChart(c.Request.Context(), symbol); err != nil {
		writeError(c, err, gin.H{"symbol": symbol})
		return
	}
	s.getChart(c)
}

func (s *Server) closeChart(c *gin.Context) {
	s.source.CloseChart(strings.TrimSpace(c.Param("symbol")))
	c.Status(http.StatusNoContent)
}

func (s *Server) putResolution(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	req, ok := decodeRequest(c)
	if !ok {
		return
	}
	if err := s.source.SetChartResolution(c.Request.Context(), symbol, req.Resolution); err != nil {
		writeError(c, err, gin.H{"symbol": symbol, "resolution": req.Resolution})
		return
	}
	s.getChart(c)
}

func (s *Server) loadMore(c *gin.Context) {
	feed := c.Param("feed")
	var (
		added int
		err   error
	)
	switch feed {
	case "messages":
		added, err = s.source.LoadMoreMessages(c.Request.Context())
	case "news":
		added, err = s.source.LoadMoreNews(c.Request.Context())
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed", "feed": feed})
		return
	}
	if err != nil {
		writeError(c, err, gin.H{"feed": feed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed": feed, "added": added})
}

func decodeRequest(c *gin.Context) (viewRequest, bool) {
	var req viewRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return viewRequest{}, false
	}
	return req, true
}

// writeError maps an error code to an HTTP status and writes it with extra fields.
func writeError(c *gin.Context, err error, fields gin.H) {
	status := http.StatusInternalServerError
	code, _ := errs.CodeOf(err)
	switch code {
	case errs.CodeInvalid:
		status = http.StatusBadRequest
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case errs.CodeNetwork:
		status = http.StatusBadGateway
	}
	body := gin.H{"error": err.Error()}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

func (s *Server) getDeadLetters(c *gin.Context) {
	letters := s.source.DeadLetters()
	c.JSON(http.StatusOK, gin.H{"count": len(letters), "letters": letters})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("inspector request",
			observability.F("method", c.Request.Method),
			observability.F("path", c.FullPath()),
			observability.F("status", c.Writer.Status()),
			observability.F("latency", time.Since(start)))
	}
}
