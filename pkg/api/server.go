// Package api serves the local HTTP status surface: peers, routes, channels
// and queue depths, for tooling and debugging. It reads node state through
// a narrow provider interface and never touches protocol internals.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Thrinadh-25/MeshIt/pkg/channel"
	"github.com/Thrinadh-25/MeshIt/pkg/mesh"
)

// StatusProvider exposes the node state the API reports.
type StatusProvider interface {
	Fingerprint() string
	Nickname() string
	DirectPeers() []string
	Routes() []mesh.Route
	JoinedChannels() []string
	AvailableChannels() []string
	ChannelSnapshot(name string) (channel.Channel, bool)
	QueueDepths() map[string]int
}

// Server is the HTTP status server.
type Server struct {
	provider   StatusProvider
	router     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a status server around provider.
func NewServer(provider StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		provider:  provider,
		router:    router,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/peers", s.handlePeers)
		v1.GET("/routes", s.handleRoutes)
		v1.GET("/channels", s.handleChannels)
		v1.GET("/channels/:name", s.handleChannel)
		v1.GET("/queue", s.handleQueue)
	}
}

// Start serves on port until Stop is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("api: server stopped: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fingerprint": s.provider.Fingerprint(),
		"nickname":    s.provider.Nickname(),
		"peerCount":   len(s.provider.DirectPeers()),
		"uptime":      time.Since(s.startedAt).String(),
	})
}

func (s *Server) handlePeers(c *gin.Context) {
	peers := s.provider.DirectPeers()
	c.JSON(http.StatusOK, gin.H{
		"count": len(peers),
		"peers": peers,
	})
}

func (s *Server) handleRoutes(c *gin.Context) {
	routes := s.provider.Routes()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(routes),
		"routes": routes,
	})
}

func (s *Server) handleChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"joined":    s.provider.JoinedChannels(),
		"available": s.provider.AvailableChannels(),
	})
}

func (s *Server) handleChannel(c *gin.Context) {
	name := c.Param("name")
	snap, ok := s.provider.ChannelSnapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": s.provider.QueueDepths()})
}
