package docserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

type (
	// Options configures a Server.
	Options struct {
		Address        string
		Storage        *Storage
		Logger         *log.Logger
		DisableReqLogs bool

		// DailyWriteLimit caps the write operations accepted per document
		// per day. Zero means unlimited.
		DailyWriteLimit int

		// Registry receives the server metrics. A private registry is used
		// when nil.
		Registry *prometheus.Registry
	}

	// Server is the document HTTP server.
	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
		Lock(docID string, locked bool)
	}

	server struct {
		opts    *Options
		app     *echo.Echo
		metrics *metrics

		mu     sync.Mutex
		locked map[string]bool
		usage  map[string]int // doc id + day -> write operations
	}

	// TransactionRequest is the body of POST /api/schools/:doc/transaction.
	TransactionRequest struct {
		Updates   *schema.Snapshot             `json:"updates"`
		Deletions map[schema.Category][]string `json:"deletions,omitempty"`
	}

	// TransactionResponse reports an applied transaction.
	TransactionResponse struct {
		Operations int `json:"operations"`
	}
)

var _ Server = (*server)(nil)

// NewServer builds a server over opts.Storage.
func NewServer(opts *Options) (Server, error) {
	if opts == nil || opts.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[docserver] ", log.LstdFlags)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &server{
		opts:    opts,
		app:     echo.New(),
		metrics: newMetrics(opts.Registry),
		locked:  make(map[string]bool),
		usage:   make(map[string]int),
	}
	s.setup()
	return s, nil
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(middleware.Recover())
	s.app.Use(s.metrics.middleware)

	s.app.HTTPErrorHandler = s.handleError

	s.app.GET("/health", s.health)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))

	api := s.app.Group("/api/schools")
	api.GET("/:doc", s.readDocument)
	api.GET("/:doc/collections/:category", s.readCollection)
	api.GET("/:doc/scores/:subject", s.readScores)
	api.POST("/:doc/transaction", s.writeTransaction)
}

func (s *server) Start() error {
	s.opts.Logger.Printf("Document server listening on %s", s.opts.Address)
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("document server failed: %w", err)
	}
	return nil
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

// Lock rejects writes to docID with permission-denied while locked.
func (s *server) Lock(docID string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[docID] = locked
}

func (s *server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *server) readDocument(ctx echo.Context) error {
	docID := ctx.Param("doc")
	fields, err := parseFields(ctx.QueryParam("fields"))
	if err != nil {
		return remote.Errorf(remote.CodeInvalidArgument, "%v", err)
	}

	snap, ok, err := s.opts.Storage.ReadDocument(ctx.Request().Context(), docID, fields)
	if err != nil {
		return err
	}
	if !ok {
		return remote.Errorf(remote.CodeNotFound, "document %s does not exist", docID)
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (s *server) readCollection(ctx echo.Context) error {
	cat, err := schema.ParseCategory(ctx.Param("category"))
	if err != nil {
		return remote.Errorf(remote.CodeInvalidArgument, "%v", err)
	}
	if !cat.IsSubcollection() {
		return remote.Errorf(remote.CodeInvalidArgument, "%s is not a subcollection", cat)
	}
	snap, err := s.opts.Storage.ReadCollection(ctx.Request().Context(), ctx.Param("doc"), cat)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (s *server) readScores(ctx echo.Context) error {
	var subjectID int64
	if _, err := fmt.Sscan(ctx.Param("subject"), &subjectID); err != nil {
		return remote.Errorf(remote.CodeInvalidArgument, "invalid subject id %q", ctx.Param("subject"))
	}
	scores, err := s.opts.Storage.ReadScoresForSubject(ctx.Request().Context(), ctx.Param("doc"), subjectID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, &schema.Snapshot{Scores: scores})
}

func (s *server) writeTransaction(ctx echo.Context) error {
	docID := ctx.Param("doc")

	var req TransactionRequest
	if err := ctx.Bind(&req); err != nil {
		return remote.Errorf(remote.CodeInvalidArgument, "invalid transaction body: %v", err)
	}
	for c := range req.Deletions {
		if !c.Valid() {
			return remote.Errorf(remote.CodeInvalidArgument, "unknown category %q", c)
		}
	}

	ops := 0
	if req.Updates != nil {
		for _, c := range req.Updates.Categories() {
			ops += schema.Size(c, req.Updates.Get(c))
		}
	}
	for _, ids := range req.Deletions {
		ops += len(ids)
	}
	if err := s.admit(docID, ops); err != nil {
		return err
	}

	n, err := s.opts.Storage.Apply(ctx.Request().Context(), docID, req.Updates, req.Deletions)
	if err != nil {
		return err
	}
	s.metrics.writeOps.Observe(float64(n))
	return ctx.JSON(http.StatusOK, TransactionResponse{Operations: n})
}

// admit checks the document lock and daily quota and reserves ops.
func (s *server) admit(docID string, ops int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked[docID] {
		return remote.Errorf(remote.CodePermissionDenied, "data entry for %s is locked", docID)
	}
	if s.opts.DailyWriteLimit <= 0 {
		return nil
	}
	key := docID + "@" + time.Now().UTC().Format("2006-01-02")
	if s.usage[key]+ops > s.opts.DailyWriteLimit {
		s.metrics.quotaRejections.Inc()
		return remote.Errorf(remote.CodeResourceExhausted, "daily write quota of %d operations reached", s.opts.DailyWriteLimit)
	}
	s.usage[key] += ops
	return nil
}

// handleError writes errors as {code, message} with a matching status.
func (s *server) handleError(err error, ctx echo.Context) {
	var (
		status int
		body   *remote.Error
		re     *remote.Error
		he     *echo.HTTPError
	)
	switch {
	case errors.As(err, &re):
		status = remote.HTTPStatus(re.Code)
		body = re
	case errors.As(err, &he):
		status = he.Code
		body = &remote.Error{Code: remote.CodeForStatus(he.Code), Message: fmt.Sprint(he.Message)}
	default:
		s.opts.Logger.Printf("Error serving %s %s: %v", ctx.Request().Method, ctx.Request().URL.Path, err)
		status = http.StatusInternalServerError
		body = &remote.Error{Code: remote.CodeInternal, Message: http.StatusText(status)}
	}

	if ctx.Response().Committed {
		return
	}
	if ctx.Request().Method == http.MethodHead {
		err = ctx.NoContent(status)
	} else {
		err = ctx.JSON(status, body)
	}
	if err != nil {
		s.opts.Logger.Printf("Error writing response: %v", err)
	}
}

func parseFields(raw string) ([]schema.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return schema.ParseCategories([]string{raw})
}
