// Package server wires the HTTP routes and runs the listener until its
// context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/christopherjohns/groupchat/internal/auth"
	"github.com/christopherjohns/groupchat/internal/config"
	"github.com/christopherjohns/groupchat/internal/logging"
	"github.com/christopherjohns/groupchat/internal/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Server is the main HTTP server for the chat backend.
type Server struct {
	cfg     config.HTTPConfig
	router  *gin.Engine
	httpSrv *http.Server
	hub     *ws.Hub
	log     logging.Logger
}

// New builds the router. gateway serves the WebSocket endpoint.
func New(cfg config.HTTPConfig, hub *ws.Hub, gateway http.Handler, authHandler *auth.Handler, log logging.Logger) *Server {
	s := &Server{
		cfg: cfg,
		hub: hub,
		log: log.With("component", "http"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)
	authHandler.RegisterRoutes(r)
	r.GET("/ws", gin.WrapH(gateway))

	s.router = r
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// WebSocket with GoingAway and drains in-flight HTTP requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info(ctx, "listening", "addr", ln.Addr().String())
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are invisible to http.Server.Shutdown.
		s.hub.Shutdown(shutdownCtx)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   "groupchat",
		"health":    "/health",
		"stats":     "/api/stats",
		"websocket": "/ws",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// corsConfig turns WebSocket origin host patterns into a CORS policy.
func corsConfig(patterns []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		AllowWildcard: true,
		MaxAge:        12 * time.Hour,
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			cfg.AllowAllOrigins = true
			cfg.AllowOrigins = nil
			return cfg
		case strings.Contains(p, "://"):
			cfg.AllowOrigins = append(cfg.AllowOrigins, p)
		default:
			cfg.AllowOrigins = append(cfg.AllowOrigins, "http://"+p, "https://"+p)
		}
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}
