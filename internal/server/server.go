package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tweench/internal/collector"
	"tweench/internal/models"
	"tweench/internal/queue"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, typ, body string) (queue.Message, error)
}

type Records interface {
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetImage(ctx context.Context, path string) (*models.MediaRecord, error)
}

type Classifier interface {
	Classify(ctx context.Context, url string) []models.RemoteAsset
}

type Server struct {
	addr       string
	router     *gin.Engine
	http       *http.Server
	queue      Enqueuer
	records    Records
	classifier Classifier
	log        *slog.Logger
}

func NewServer(addr string, q Enqueuer, records Records, c Classifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	s := &Server{
		addr:       addr,
		router:     r,
		queue:      q,
		records:    records,
		classifier: c,
		log:        log.With("component", "server"),
	}
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/subreddits", s.handleStoreSubreddit)
	r.POST("/posts", s.handleStorePost)
	r.GET("/posts/:id", s.handleGetPost)
	r.GET("/images/*path", s.handleGetImage)
	r.POST("/classify", s.handleClassify)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("http server listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

type subredditRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleStoreSubreddit(c *gin.Context) {
	const op = "server.handleStoreSubreddit"

	var req subredditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.enqueue(c, op, queue.TypeStoreSubreddit, strings.TrimPrefix(req.Name, "r/"))
}

type postRequest struct {
	// ID is a post id or a permalink.
	ID string `json:"id" binding:"required"`
}

func (s *Server) handleStorePost(c *gin.Context) {
	const op = "server.handleStorePost"

	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.enqueue(c, op, queue.TypeStorePost, collector.PostID(req.ID))
}

func (s *Server) enqueue(c *gin.Context, op, typ, body string) {
	msg, err := s.queue.Enqueue(c.Request.Context(), typ, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (s *Server) handleGetPost(c *gin.Context) {
	const op = "server.handleGetPost"

	post, err := s.records.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *Server) handleGetImage(c *gin.Context) {
	const op = "server.handleGetImage"

	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image path is required"})
		return
	}
	rec, err := s.records.GetImage(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type classifyRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleClassify resolves a URL to its assets without downloading anything.
func (s *Server) handleClassify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assets := s.classifier.Classify(c.Request.Context(), req.URL)
	if assets == nil {
		assets = []models.RemoteAsset{}
	}
	c.JSON(http.StatusOK, gin.H{"url": req.URL, "assets": assets})
}
