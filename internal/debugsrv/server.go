// Package debugsrv exposes a heap over HTTP for inspection and manual
// exercise: counters, span listings, page lookups, raw span and object
// allocation, and structural verification.
package debugsrv

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"golang.org/x/net/netutil"

	"github.com/joshuapare/pageheap/internal/logger"
	"github.com/joshuapare/pageheap/pageheap"
	"github.com/joshuapare/pageheap/pageheap/central"
)

// MaxRequestPages caps the span size a single POST /spans may ask for.
const MaxRequestPages = 1 << 18

// Server serves the debug API for one heap.
type Server struct {
	heap  *pageheap.Heap
	alloc *central.Allocator // nil disables the object routes

	engine *gin.Engine

	mu    sync.Mutex
	spans map[pageheap.PageID]*pageheap.Span // spans handed out through POST /spans

	// corrupted is set once a handler panics with a heap corruption; every
	// later request is refused.
	corrupted atomic.Pointer[pageheap.CorruptionError]
	fatal     func(error)
}

var registerOnce sync.Once

// registerValidators adds the custom tags used by request bodies to gin's
// validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("maxpages", func(fl validator.FieldLevel) bool {
			return fl.Field().Uint() <= MaxRequestPages
		})
		_ = v.RegisterValidation("smallclass", func(fl validator.FieldLevel) bool {
			c := fl.Field().Int()
			return c >= 0 && c <= 1<<16
		})
	})
}

// New builds a server for h. a may be nil.
func New(h *pageheap.Heap, a *central.Allocator) *Server {
	registerValidators()

	s := &Server{
		heap:  h,
		alloc: a,
		spans: make(map[pageheap.PageID]*pageheap.Span),
		fatal: exitOnCorruption,
	}

	r := gin.New()
	r.Use(s.recovery(), requestLogger(), s.refuseCorrupted)

	r.GET("/stats", s.getStats)
	r.GET("/verify", s.getVerify)
	r.GET("/spans", s.listSpans)
	r.POST("/spans", s.allocSpan)
	r.DELETE("/spans/:start", s.freeSpan)
	r.GET("/lookup/:page", s.lookup)
	if a != nil {
		r.GET("/classes", s.listClasses)
		r.POST("/objects", s.malloc)
		r.DELETE("/objects/:addr", s.freeObject)
	}
	s.engine = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on addr until ctx is cancelled. At most maxConns
// connections are served at once; zero means no limit.
func (s *Server) Serve(ctx context.Context, addr string, maxConns int) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return s.serveListener(ctx, l)
}

func (s *Server) serveListener(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("debugsrv: shutdown", "err", err)
		}
	}()

	logger.Info("debugsrv: listening", "addr", l.Addr().String())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}

// recovery turns ordinary handler panics into 500 responses. A heap
// corruption is not recoverable: the heap is marked unusable and s.fatal
// is called, which by default exits the process.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, r any) {
		ce, ok := r.(*pageheap.CorruptionError)
		if !ok {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		s.corrupted.Store(ce)
		errorJSON(c, http.StatusInternalServerError, ce)
		s.fatal(ce)
	})
}

func (s *Server) refuseCorrupted(c *gin.Context) {
	if ce := s.corrupted.Load(); ce != nil {
		errorJSON(c, http.StatusServiceUnavailable, ce)
		return
	}
	c.Next()
}

func exitOnCorruption(err error) {
	logger.Error("debugsrv: heap corrupted, exiting", "err", err)
	os.Exit(2)
}

// requestLogger logs each request through the package logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("debugsrv: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
