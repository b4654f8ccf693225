package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gigatile/internal/cache"
	"gigatile/internal/catalog"
	"gigatile/internal/config"
	"gigatile/internal/encoding"
	"gigatile/internal/largeimage"
	"gigatile/internal/tile"
	"gigatile/internal/tilestore"
)

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	catalog *catalog.Catalog
	encoder encoding.Encoder
}

func New(config *config.Config, logger *zap.Logger, catalog *catalog.Catalog, encoder encoding.Encoder) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		catalog: catalog,
		encoder: encoder,
	}
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
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
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
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.catalog.GetImages())
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleImageRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/images/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	entry := h.catalog.GetImageByID(parts[0])
	if entry == nil {
		http.Error(w, fmt.Sprintf("image not found: %s", parts[0]), http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "meta":
		h.handleMeta(w, r, entry)
	case len(parts) == 2 && parts[1] == "mode":
		h.handleMode(w, r, entry)
	case len(parts) == 5 && parts[1] == "tiles":
		h.handleTile(w, r, entry, parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleMeta(w http.ResponseWriter, r *http.Request, entry *catalog.Entry) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, entry.Info())
}

func (h *Handlers) handleMode(w http.ResponseWriter, r *http.Request, entry *catalog.Entry) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requested := r.URL.Query().Get("mode")
	if requested == "" {
		http.Error(w, "Missing mode", http.StatusBadRequest)
		return
	}
	mode, err := tilestore.ParseMode(requested)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry.Do(func(img *largeimage.Image) error {
		img.SetComputeMode(mode)
		return nil
	})

	writeJSON(w, http.StatusOK, entry.Info())
}

func (h *Handlers) handleTile(w http.ResponseWriter, r *http.Request, entry *catalog.Entry, tileParts []string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	level, err := parseIndex(tileParts[0])
	if err != nil {
		http.Error(w, "Invalid level", http.StatusBadRequest)
		return
	}
	x, err := parseIndex(tileParts[1])
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	y, err := parseIndex(strings.TrimSuffix(tileFile, ext))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	format, err := encoding.ParseFormat(ext)
	if err != nil {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	interior := r.URL.Query().Get("border") == "0"

	coord := tile.Coordinate{X: x, Y: y, Level: level}
	var (
		result  *cache.Tile
		mode    tilestore.Mode
		realDim int
		overlap int
		imageID string
	)
	err = entry.Do(func(img *largeimage.Image) error {
		var err error
		result, err = img.GetTile(coord)
		mode = img.ComputeMode()
		realDim = int(img.RealTileDim())
		overlap = int(img.Overlap())
		imageID = img.ID()
		return err
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to get tile", zap.String("image", imageID), zap.Stringer("tile", coord), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	etag := generateETag(imageID, mode, coord, format, interior)
	if match := r.Header.Get("If-None-Match"); match == `"`+etag+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	pixels, dim := result.Pixels, realDim
	if interior {
		pixels, dim = encoding.Interior(pixels, realDim, overlap)
	}

	data, err := h.encoder.Encode(pixels, dim, format)
	if err != nil {
		h.logger.Error("Failed to encode tile", zap.String("image", imageID), zap.Stringer("tile", coord), zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", `"`+etag+`"`)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Compute-Mode", mode.String())

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

// parseIndex parses a decimal tile index, rejecting signs and trailing characters.
func parseIndex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// statusFor maps per-tile errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tile.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, tile.ErrMissingIndexEntry):
		return http.StatusNotFound
	case errors.Is(err, tile.ErrGeneratorFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func generateETag(imageID string, mode tilestore.Mode, c tile.Coordinate, format encoding.Format, interior bool) string {
	keyStr := fmt.Sprintf("%s_%s_%t/%d/%d/%d.%s", imageID, mode, interior, c.Level, c.X, c.Y, format)
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])[:16]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
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
