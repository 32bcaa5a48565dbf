package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/demohub/internal/apps"
	"github.com/Brownie44l1/demohub/internal/model"
	"github.com/Brownie44l1/demohub/internal/preprocess"
	"github.com/Brownie44l1/demohub/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Predictor is the part of *apps.Registry the HTTP layer needs.
type Predictor interface {
	List() []apps.Info
	Predict(ctx context.Context, id string, in apps.Input) (*apps.Result, error)
	History(ctx context.Context, id string, limit int) ([]store.Record, error)
}

type Handler struct {
	predictor Predictor
	maxUpload int64
	log       *zap.Logger
}

type TextRequest struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryResponse struct {
	App     string         `json:"app"`
	Records []store.Record `json:"records"`
}

func NewHandler(predictor Predictor, maxUpload int64, log *zap.Logger) *Handler {
	return &Handler{
		predictor: predictor,
		maxUpload: maxUpload,
		log:       log,
	}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/apps", h.ListApps)
	r.POST("/apps/:id/predict", h.Predict)
	r.GET("/apps/:id/history", h.History)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) ListApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apps": h.predictor.List()})
}

func (h *Handler) Predict(c *gin.Context) {
	id := c.Param("id")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	in, err := h.readInput(c)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.predictor.Predict(c.Request.Context(), id, in)
	if err != nil {
		status := statusFor(err)
		switch {
		case errors.Is(err, model.ErrInputShape):
			h.log.Error("Model metadata misconfigured: preprocessed input does not fit the model", zap.String("app", id), zap.Error(err))
		case status >= http.StatusInternalServerError:
			h.log.Error("Prediction error", zap.String("app", id), zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// readInput accepts a multipart upload ("image" file or "text" field), a
// JSON body {"text": ...}, or a plain-text body.
func (h *Handler) readInput(c *gin.Context) (apps.Input, error) {
	contentType := c.ContentType()

	switch {
	case strings.HasPrefix(contentType, "multipart/"):
		if text := c.PostForm("text"); text != "" {
			return apps.Input{Text: text}, nil
		}
		header, err := c.FormFile("image")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return apps.Input{}, err
			}
			return apps.Input{}, errors.New("No image file provided. Use 'image' as the form field name")
		}
		file, err := header.Open()
		if err != nil {
			return apps.Input{}, err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return apps.Input{}, err
		}
		h.log.Debug("Received file", zap.String("file", header.Filename), zap.Int64("size", header.Size))
		return apps.Input{Filename: header.Filename, Data: data}, nil

	case contentType == "application/json":
		var req TextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return apps.Input{}, err
			}
			return apps.Input{}, errors.New("Invalid JSON")
		}
		return apps.Input{Text: req.Text}, nil

	default:
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return apps.Input{}, err
		}
		return apps.Input{Text: string(body)}, nil
	}
}

func (h *Handler) History(c *gin.Context) {
	id := c.Param("id")

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.predictor.History(c.Request.Context(), id, limit)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("History error", zap.String("app", id), zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	if records == nil {
		records = []store.Record{}
	}

	c.JSON(http.StatusOK, HistoryResponse{App: id, Records: records})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apps.ErrUnknownApp):
		return http.StatusNotFound
	case errors.Is(err, preprocess.ErrUnsupportedFormat), errors.Is(err, preprocess.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrInputShape), errors.Is(err, model.ErrModelOutput):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}
