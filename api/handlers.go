// Package api exposes the task store and the device over a small HTTP
// control API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/franksops/paperup/engine"
	"github.com/franksops/paperup/gate"
	"github.com/franksops/paperup/provider"
)

// Queue schedules tasks and sizes the upload workers. engine.Queue
// implements it.
type Queue interface {
	Submit(ctx context.Context, task engine.Task) error
	SetWorkers(n int)
	Workers() int
}

// DeviceReader is the read-only part of the device API.
type DeviceReader interface {
	List(ctx context.Context, dir string) ([]provider.Entry, error)
	Status(ctx context.Context) (provider.Usage, error)
}

// TaskRequest is the body of POST /tasks.
type TaskRequest struct {
	Source     string `json:"source" binding:"required"`
	TargetPath string `json:"target_path" binding:"required"`
	FileName   string `json:"file_name"`
}

// WorkersRequest is the body of PUT /workers.
type WorkersRequest struct {
	Count int `json:"count" binding:"required,min=1,max=16"`
}

// WorkersResponse reports the number of concurrent uploads.
type WorkersResponse struct {
	Count int `json:"count"`
}

// StatusResponse is returned by GET /device/status.
type StatusResponse struct {
	provider.Usage
	FreeBytes int64 `json:"freeBytes"`
}

type Handler struct {
	store   *engine.TaskStore
	queue   Queue
	device  DeviceReader
	logger  *slog.Logger
	timeout time.Duration
}

func NewHandler(store *engine.TaskStore, queue Queue, device DeviceReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   store,
		queue:   queue,
		device:  device,
		logger:  logger,
		timeout: 15 * time.Second,
	}
}

func (h *Handler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Tasks())
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	task := engine.NewTask(req.Source, req.TargetPath, req.FileName)
	if err := h.queue.Submit(c.Request.Context(), task); err != nil {
		h.fail(c, err)
		return
	}

	created, _ := h.store.Get(task.ID)
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetTask(c *gin.Context) {
	task, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Cancel(id); err != nil {
		h.fail(c, err)
		return
	}
	task, _ := h.store.Get(id)
	c.JSON(http.StatusOK, task)
}

func (h *Handler) DismissTask(c *gin.Context) {
	if err := h.store.Remove(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, WorkersResponse{Count: h.queue.Workers()})
}

func (h *Handler) SetWorkers(c *gin.Context) {
	var req WorkersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	h.queue.SetWorkers(req.Count)
	h.logger.Info("upload workers resized", "count", req.Count)
	c.JSON(http.StatusOK, WorkersResponse{Count: h.queue.Workers()})
}

func (h *Handler) DeviceStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	u, err := h.device.Status(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Usage: u, FreeBytes: u.FreeBytes()})
}

func (h *Handler) DeviceList(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.device.List(ctx, c.DefaultQuery("dir", "/"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []provider.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var se *provider.StatusError
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDuplicateID), errors.Is(err, engine.ErrTaskActive):
		return http.StatusConflict
	case errors.Is(err, engine.ErrQueueClosed), errors.Is(err, gate.ErrConnectivityUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
