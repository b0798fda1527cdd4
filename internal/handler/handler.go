// internal/handler/handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/SyedDaiam9101/leaf-disease-service/internal/cache"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/inference"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/metrics"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/middleware"
)

const (
	// DefaultMaxUploadBytes caps the multipart body of /predict.
	DefaultMaxUploadBytes = 10 << 20

	welcomeMessage = "Welcome to Potato Disease Classification API"
	pingMessage    = "Hello, I am alive"
	indexTemplate  = "index.html"
)

// uploadFields are the multipart field names accepted for the image, in order.
var uploadFields = []string{"file", "image"}

// Classifier predicts the class of an uploaded image.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (*inference.Prediction, error)
}

// PredictionCache stores predictions by content key.
type PredictionCache interface {
	Get(ctx context.Context, key string) (*inference.Prediction, bool, error)
	Set(ctx context.Context, key string, p *inference.Prediction) error
}

// Options configures the optional surfaces of the API.
type Options struct {
	// MaxUploadBytes limits the request body of /predict.
	MaxUploadBytes int64
	// Templates, when set, must define index.html; GET / renders it instead
	// of the JSON welcome message.
	Templates *template.Template
	// StaticDir, when set, is served under /static/.
	StaticDir string
}

// Handler serves the classification API.
type Handler struct {
	classifier Classifier
	cache      PredictionCache
	opts       Options
}

// New creates a new Handler. cache may be nil.
func New(classifier Classifier, cache PredictionCache, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		classifier: classifier,
		cache:      cache,
		opts:       opts,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("POST /predict", h.Predict)

	if h.opts.StaticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(h.opts.StaticDir))))
	}
}

// Home returns the welcome message, or renders index.html when templates are configured.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if h.opts.Templates == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": welcomeMessage})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.opts.Templates.ExecuteTemplate(w, indexTemplate, map[string]any{
		"RequestID": middleware.GetRequestID(r.Context()),
	}); err != nil {
		log.Printf("[%s] Template error: %v", requestID(r.Context()), err)
	}
}

// Ping is a liveness probe.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": pingMessage})
}

// Predict classifies an image uploaded as multipart form data.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	reqID := requestID(ctx)

	if h.classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "classifier not initialized")
		return
	}

	if r.ContentLength > h.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data with a 'file' field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image file provided, use 'file' as the form field name")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	key := cache.Key(data)
	if pred, ok := h.cached(ctx, key); ok {
		log.Printf("[%s] Predict: file=%q bytes=%d class=%q confidence=%.4f cached=true",
			reqID, header.Filename, len(data), pred.Class, pred.Confidence)
		writeJSON(w, http.StatusOK, pred)
		return
	}

	pred, err := h.classifier.Classify(ctx, data)
	if err != nil {
		kind := errorKind(err)
		metrics.RecordPredictionError(kind)
		status, msg := httpError(err)
		if kind == kindModelInput {
			log.Printf("[%s] MODEL INPUT MISMATCH (check model/preprocessing configuration): %v", reqID, err)
		} else {
			log.Printf("[%s] Predict failed: file=%q kind=%s: %v", reqID, header.Filename, kind, err)
		}
		writeError(w, status, msg)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, pred); err != nil {
			log.Printf("[%s] Cache set failed: %v", reqID, err)
		}
	}

	log.Printf("[%s] Predict: file=%q bytes=%d class=%q confidence=%.4f total_ms=%.2f",
		reqID, header.Filename, len(data), pred.Class, pred.Confidence,
		float64(time.Since(start).Microseconds())/1000.0)

	writeJSON(w, http.StatusOK, pred)
}

func (h *Handler) cached(ctx context.Context, key string) (*inference.Prediction, bool) {
	if h.cache == nil {
		return nil, false
	}

	pred, ok, err := h.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheResult("error")
		log.Printf("[%s] Cache get failed: %v", requestID(ctx), err)
		return nil, false
	case !ok:
		metrics.RecordCacheResult("miss")
		return nil, false
	}
	metrics.RecordCacheResult("hit")
	return pred, true
}

func formFile(form *multipart.Form) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range uploadFields {
		if headers := form.File[field]; len(headers) > 0 {
			f, err := headers[0].Open()
			if err != nil {
				return nil, nil, err
			}
			return f, headers[0], nil
		}
	}
	return nil, nil, http.ErrMissingFile
}

func requestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
