package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"MarketIngest/internal/metrics"
	"MarketIngest/internal/model"
	"MarketIngest/internal/recorder"
)

const (
	defaultLimit = 100
	maxLimit     = 5000
)

// Ingestor runs a single work unit. *pipeline.Pipeline implements it.
type Ingestor interface {
	Ingest(ctx context.Context, unit model.WorkUnit) model.IngestResult
}

// BatchTrigger starts the configured batch. *scheduler.Scheduler implements it.
type BatchTrigger interface {
	Trigger() bool
}

// Server exposes ingestion triggers and read access to stored bars.
type Server struct {
	ingestor Ingestor
	batch    BatchTrigger
	store    recorder.Recorder
	units    int
}

// NewServer wires the handlers. batch may be nil, which disables the batch endpoint.
func NewServer(ing Ingestor, batch BatchTrigger, store recorder.Recorder, units int) *Server {
	return &Server{ingestor: ing, batch: batch, store: store, units: units}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/ingest", s.ingest)
	v1.POST("/ingest/batch", s.ingestBatch)
	v1.GET("/stocks/:symbol", s.stock)
	v1.GET("/symbols", s.symbols)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ingest(c *gin.Context) {
	var unit model.WorkUnit
	if err := c.ShouldBindJSON(&unit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if strings.TrimSpace(unit.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if unit.TimeframeKey == "" {
		unit.TimeframeKey = string(model.Daily)
	}
	if _, ok := model.CanonicalKey(unit.TimeframeKey); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timeframe " + unit.TimeframeKey})
		return
	}
	if unit.Period != "" {
		if _, err := model.PeriodCutoff(unit.Period, time.Now()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res := s.ingestor.Ingest(c.Request.Context(), unit)
	code := http.StatusOK
	if res.Status == model.StatusFailed {
		code = http.StatusBadGateway
	}
	c.JSON(code, res)
}

func (s *Server) ingestBatch(c *gin.Context) {
	if s.batch == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "batch trigger not configured"})
		return
	}
	if !s.batch.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"error": "a batch is already running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "units": s.units})
}

// stock serves bars from the versioned table, falling back to the legacy table
// when the versioned one has nothing for the symbol and timeframe.
func (s *Server) stock(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	key, ok := model.CanonicalKey(c.DefaultQuery("timeframe", string(model.Daily)))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown timeframe " + c.Query("timeframe")})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	ctx := c.Request.Context()
	rows, err := s.store.Versioned(ctx, symbol, key, limit)
	if err != nil {
		s.storeError(c, err)
		return
	}
	table := "stock_data_v2"
	if len(rows) == 0 {
		legacy, err := s.store.Legacy(ctx, symbol, limit)
		if err != nil {
			s.storeError(c, err)
			return
		}
		table = "stock_data"
		rows = make([]recorder.VersionedRow, len(legacy))
		for i, l := range legacy {
			rows[i] = recorder.VersionedRow{
				Symbol: l.Symbol, Timestamp: l.Timestamp, Timeframe: key,
				Open: l.Open, High: l.High, Low: l.Low, Close: l.Close, Volume: l.Volume,
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"timeframe": key,
		"table":     table,
		"count":     len(rows),
		"data":      rows,
	})
}

func (s *Server) symbols(c *gin.Context) {
	syms, err := s.store.Symbols(c.Request.Context())
	if err != nil {
		s.storeError(c, err)
		return
	}
	if syms == nil {
		syms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"data": syms})
}

func (s *Server) storeError(c *gin.Context, err error) {
	log.WithError(err).WithField("path", c.FullPath()).Error("store query failed")
	code := http.StatusInternalServerError
	if recorder.IsKind(err, recorder.ConnectionError) {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTP(c.Request.Method, path, c.Writer.Status())
		if path == "/health" || path == "/metrics" {
			return
		}
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("http request")
	}
}
