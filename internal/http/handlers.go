package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flipview/internal/cache"
	"flipview/internal/config"
	"flipview/internal/document_list"
)

// Registry is the subset of the document registry the handlers use.
type Registry interface {
	Scan() error
	GetDocuments() []document_list.DocumentInfo
	GetDocumentByID(id string) *document_list.DocumentInfo
	ProcessUploadedFile(tempPath string, originalFilename string) (string, error)
}

// RenderCache is the subset of the cache orchestrator the handlers use.
type RenderCache interface {
	RenderWithCache(ctx context.Context, documentID string, opts cache.RenderOptions) ([]cache.PageImage, error)
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context) error
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	registry Registry
	cache    RenderCache
}

func New(config *config.Config, logger *zap.Logger, registry Registry, renderCache RenderCache) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		registry: registry,
		cache:    renderCache,
	}
}

// Routes returns the full handler chain.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/documents", h.HandleDocuments)
	mux.HandleFunc("/api/documents/", h.HandleDocumentRoutes)
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/api/cache/stats", h.HandleCacheStats)
	mux.HandleFunc("/api/cache", h.HandleCache)
	mux.HandleFunc("/healthz", h.HandleHealthz)

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.registry.GetDocuments())
}

func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !document_list.IsSupported(header.Filename) {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))

	tempFile, err := os.CreateTemp(os.TempDir(), "upload_*"+ext)
	if err != nil {
		h.logger.Error("Failed to create temp file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempPath := tempFile.Name()

	if _, err := io.Copy(tempFile, file); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		h.logger.Error("Failed to copy file", zap.Error(err))
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	tempFile.Close()

	documentID, err := h.registry.ProcessUploadedFile(tempPath, header.Filename)
	if err != nil {
		if _, statErr := os.Stat(tempPath); statErr == nil {
			os.Remove(tempPath)
		}
		h.logger.Error("Failed to process uploaded file", zap.Error(err))
		http.Error(w, "Failed to process file", http.StatusUnprocessableEntity)
		return
	}

	doc := h.registry.GetDocumentByID(documentID)
	if doc == nil {
		h.logger.Warn("Uploaded document not found after processing", zap.String("id", documentID))
		http.Error(w, "Failed to retrieve uploaded document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    documentID,
		"name":  doc.OriginalFilename,
		"pages": doc.Pages,
		"saved": true,
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *Handlers) HandleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear cache", zap.Error(err))
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

// HandleDocumentRoutes serves /api/documents/{id}/pages,
// /api/documents/{id}/pages/{n}.jpg and /api/documents/{id}/thumbs/{n}.jpg.
func (h *Handlers) HandleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	documentID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "pages":
		h.handlePageManifest(w, r, documentID)
	case len(parts) == 3 && (parts[1] == "pages" || parts[1] == "thumbs"):
		h.handlePageImage(w, r, documentID, parts[2], parts[1] == "thumbs")
	default:
		http.NotFound(w, r)
	}
}

type pageEntry struct {
	PageNumber   int    `json:"pageNumber"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Bytes        int    `json:"bytes"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type pageManifest struct {
	DocumentID string      `json:"documentId"`
	CacheKey   string      `json:"cacheKey"`
	PageCount  int         `json:"pageCount"`
	Pages      []pageEntry `json:"pages"`
}

func (h *Handlers) handlePageManifest(w http.ResponseWriter, r *http.Request, documentID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts, err := h.renderOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pages, ok := h.render(w, r, documentID, opts)
	if !ok {
		return
	}

	query := ""
	if r.URL.RawQuery != "" {
		query = "?" + r.URL.RawQuery
	}

	manifest := pageManifest{
		DocumentID: documentID,
		CacheKey:   cache.GenerateKey(documentID, opts),
		PageCount:  len(pages),
		Pages:      make([]pageEntry, 0, len(pages)),
	}
	for _, p := range pages {
		entry := pageEntry{
			PageNumber: p.PageNumber,
			Width:      p.Width,
			Height:     p.Height,
			Bytes:      len(p.ImageData),
			URL:        fmt.Sprintf("/api/documents/%s/pages/%d.jpg%s", documentID, p.PageNumber, query),
		}
		if len(p.Thumbnail) > 0 {
			entry.ThumbnailURL = fmt.Sprintf("/api/documents/%s/thumbs/%d.jpg%s", documentID, p.PageNumber, query)
		}
		manifest.Pages = append(manifest.Pages, entry)
	}

	writeJSON(w, http.StatusOK, manifest)
}

func (h *Handlers) handlePageImage(w http.ResponseWriter, r *http.Request, documentID, file string, thumbnail bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ext := filepath.Ext(file)
	if ext != ".jpg" && ext != ".jpeg" {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	pageNumber, err := strconv.Atoi(strings.TrimSuffix(file, ext))
	if err != nil || pageNumber < 1 {
		http.Error(w, "Invalid page number", http.StatusBadRequest)
		return
	}

	opts, err := h.renderOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pages, ok := h.render(w, r, documentID, opts)
	if !ok {
		return
	}

	var data []byte
	for _, p := range pages {
		if p.PageNumber == pageNumber {
			data = p.ImageData
			if thumbnail {
				data = p.Thumbnail
			}
			break
		}
	}
	if len(data) == 0 {
		http.NotFound(w, r)
		return
	}

	etag := generateETag(cache.GenerateKey(documentID, opts), pageNumber, thumbnail)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", "image/jpeg")

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

// render runs the cache and writes the error response itself when it fails.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, documentID string, opts cache.RenderOptions) ([]cache.PageImage, bool) {
	if h.registry.GetDocumentByID(documentID) == nil {
		http.Error(w, fmt.Sprintf("document not found: %s", documentID), http.StatusNotFound)
		return nil, false
	}

	pages, err := h.cache.RenderWithCache(r.Context(), documentID, opts)
	if err != nil {
		if cache.IsDocumentOpenFailure(err) {
			h.logger.Warn("Document could not be opened", zap.String("document_id", documentID), zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":     "the document could not be opened",
				"retryable": true,
			})
			return nil, false
		}
		h.logger.Error("Failed to render document", zap.String("document_id", documentID), zap.Error(err))
		http.Error(w, "Failed to render document", http.StatusInternalServerError)
		return nil, false
	}
	return pages, true
}

// renderOptions starts from the configured defaults and applies the scale,
// quality, thumb and max query parameters.
func (h *Handlers) renderOptions(r *http.Request) (cache.RenderOptions, error) {
	opts := h.config.RenderOptions()
	q := r.URL.Query()

	floatParams := []struct {
		name string
		dst  *float64
	}{
		{"scale", &opts.Scale},
		{"quality", &opts.Quality},
		{"thumb", &opts.ThumbnailScale},
	}
	for _, p := range floatParams {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return opts, fmt.Errorf("invalid %s: %q", p.name, raw)
		}
		*p.dst = v
	}

	if raw := q.Get("max"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return opts, fmt.Errorf("invalid max: %q", raw)
		}
		opts.MaxPages = v
	}

	return opts.WithDefaults(), nil
}

func (h *Handlers) authorized(r *http.Request) bool {
	if h.config.IsUploadPublic() {
		return true
	}

	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == h.config.UploadToken
}

func generateETag(cacheKey string, pageNumber int, thumbnail bool) string {
	kind := "page"
	if thumbnail {
		kind = "thumb"
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d", cacheKey, kind, pageNumber)))
	return `"` + hex.EncodeToString(hash[:])[:16] + `"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
