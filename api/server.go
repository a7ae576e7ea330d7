// Package api is the setup web server: install status, and the credentials
// page used to point the frame at an Immich server without editing files.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aouyang1/pimmich/api/models"
	"github.com/aouyang1/pimmich/api/web/templates"
	"github.com/aouyang1/pimmich/auth"
	"github.com/aouyang1/pimmich/config"
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/immich"
	"github.com/aouyang1/pimmich/store"
	"github.com/aouyang1/pimmich/util"
	"github.com/gin-gonic/gin"
)

// RunStore is the read side of the install ledger.
type RunStore interface {
	LatestRun() (*store.Run, error)
	ListRuns(limit int) ([]store.Run, error)
	GetSteps(runID string) ([]store.StepRecord, error)
}

// AlbumLister lists the albums of an Immich server.
type AlbumLister interface {
	Albums(ctx context.Context) ([]immich.Album, error)
}

type WebServer struct {
	router *gin.Engine
	db     RunStore
	cfg    *config.Settings
	writer util.Writer

	newImmich func(url, token string) (AlbumLister, error)
}

func NewWebServer(db RunStore, cfg *config.Settings, writer util.Writer) *WebServer {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	ws := &WebServer{
		router: router,
		db:     db,
		cfg:    cfg,
		writer: writer,
		newImmich: func(url, token string) (AlbumLister, error) {
			return immich.NewClient(url, token, immich.DefaultOptions())
		},
	}

	ws.setupRoutes()
	return ws
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (ws *WebServer) setupRoutes() {
	ws.router.GET("/", ws.handleIndex)

	admin := ws.router.Group("/", ws.requireAdmin())
	admin.GET("/status", ws.handleStatus)
	admin.GET("/runs", ws.handleListRuns)
	admin.GET("/credentials", ws.handleGetCredentials)
	admin.PUT("/credentials", ws.handleUpdateCredentials)
	admin.GET("/albums", ws.handleListAlbums)
}

// requireAdmin checks HTTP basic credentials against the admin account file.
// The file is read on every request so an account seeded after serve starts
// is picked up.
func (ws *WebServer) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := ws.cfg.AdminFilePath()
		account, err := auth.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "admin account not found, run pimmich-setup admin"})
			return
		}
		if err != nil {
			slog.Error("failed to load admin account", "path", path, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load admin account"})
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok || !account.Verify(username, password) {
			slog.Warn("rejected unauthenticated request", "path", c.Request.URL.Path, "remote", c.ClientIP())
			c.Header("WWW-Authenticate", `Basic realm="pimmich setup"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "authentication required"})
			return
		}
		c.Next()
	}
}

func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until ctx is cancelled.
func (ws *WebServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("shutting down web server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	return nil
}

func (ws *WebServer) latest() (*store.Run, []store.StepRecord, error) {
	run, err := ws.db.LatestRun()
	if errors.Is(err, store.ErrNoRuns) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	steps, err := ws.db.GetSteps(run.ID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

func (ws *WebServer) handleIndex(c *gin.Context) {
	run, steps, err := ws.latest()
	if err != nil {
		c.String(http.StatusInternalServerError, fmt.Sprintf("Failed to load install status: %v", err))
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := templates.StatusPage(run, steps).Render(c.Request.Context(), c.Writer); err != nil {
		slog.Error("failed to render status page", "error", err)
	}
}

func (ws *WebServer) handleStatus(c *gin.Context) {
	run, steps, err := ws.latest()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to load install status: %v", err)})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: store.ErrNoRuns.Error()})
		return
	}
	if steps == nil {
		steps = []store.StepRecord{}
	}
	c.JSON(http.StatusOK, models.StatusResponse{Run: run, Steps: steps})
}

func (ws *WebServer) handleListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be between 1 and 100"})
		return
	}

	runs, err := ws.db.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to list runs: %v", err)})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, models.RunListResponse{Runs: runs, Total: len(runs), Limit: limit})
}

func (ws *WebServer) loadCredentials(c *gin.Context) (credentials.Config, bool) {
	creds, err := credentials.Load(ws.cfg.CredentialsPath)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "credentials file not found, run pimmich-setup seed"})
		return credentials.Config{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to read credentials: %v", err)})
		return credentials.Config{}, false
	}
	return creds, true
}

func (ws *WebServer) handleGetCredentials(c *gin.Context) {
	creds, ok := ws.loadCredentials(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.NewCredentialsResponse(creds))
}

func (ws *WebServer) handleUpdateCredentials(c *gin.Context) {
	var req credentials.Patch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	creds, err := credentials.Update(c.Request.Context(), ws.writer, ws.cfg.CredentialsPath, req)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "credentials file not found, run pimmich-setup seed"})
		return
	case errors.Is(err, credentials.ErrInvalid):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to update credentials: %v", err)})
		return
	}

	slog.Info("credentials updated", "path", ws.cfg.CredentialsPath, "immich_url", creds.ImmichURL, "albums", len(creds.AlbumIDs))
	c.JSON(http.StatusOK, models.NewCredentialsResponse(creds))
}

func (ws *WebServer) handleListAlbums(c *gin.Context) {
	creds, ok := ws.loadCredentials(c)
	if !ok {
		return
	}
	if creds.HasPlaceholderToken() {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "set immich_token before listing albums"})
		return
	}

	client, err := ws.newImmich(creds.ImmichURL, creds.ImmichToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	albums, err := client.Albums(c.Request.Context())
	switch {
	case errors.Is(err, immich.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: fmt.Sprintf("Failed to list albums: %v", err)})
		return
	}
	if albums == nil {
		albums = []immich.Album{}
	}
	c.JSON(http.StatusOK, models.AlbumListResponse{Albums: albums, Selected: creds.AlbumIDs})
}
