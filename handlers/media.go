package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"reelrelay/config"
	"reelrelay/models"
	"reelrelay/services/resolver"
	"reelrelay/services/streaming"
	"reelrelay/utils"
)

const maxRequestBody = 64 << 10

type resolverService interface {
	Resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error)
}

type relayService interface {
	Open(ctx context.Context, req streaming.Request) (*streaming.Response, error)
	Serve(ctx context.Context, w http.ResponseWriter, resp *streaming.Response) (int64, error)
}

var (
	_ resolverService = (*resolver.Retrier)(nil)
	_ relayService    = (*streaming.Relay)(nil)
)

// MediaHandler exposes the info, download and stream endpoints.
type MediaHandler struct {
	Resolver resolverService
	Relay    relayService
	media    config.MediaSettings
	logger   *slog.Logger
}

func NewMediaHandler(res resolverService, relay relayService, media config.MediaSettings, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{Resolver: res, Relay: relay, media: media, logger: logger}
}

// Register mounts the media routes. OPTIONS is listed so the CORS middleware
// can answer preflight requests.
func (h *MediaHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/info", h.Info).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/download", h.Download).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/stream-video/{shortcode}", h.Stream).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/api/download-video/{shortcode}", h.Stream).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
}

// Info resolves a post URL and returns its metadata.
func (h *MediaHandler) Info(w http.ResponseWriter, r *http.Request) {
	id, err := h.identifierFromBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, inputMessage(err))
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), h.resolutionRequest(id))
	if err != nil {
		h.log(r).Info("media.info.unresolved", "shortcode", id, "error", err)
		writeError(w, http.StatusBadRequest, resolutionMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, models.MediaInfo{
		Success:       true,
		Shortcode:     id.String(),
		OwnerUsername: res.OwnerUsername,
		Title:         res.Title,
		VideoDuration: res.DurationSeconds,
		IsVideo:       res.IsVideo,
		Caption:       res.Caption,
		Likes:         res.Likes,
		Comments:      res.Comments,
		Date:          formatDate(res.PostedAt),
	})
}

// Download resolves a post URL and returns the links needed to fetch the video.
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := h.identifierFromBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, inputMessage(err))
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), h.resolutionRequest(id))
	if err != nil {
		h.log(r).Info("media.download.unresolved", "shortcode", id, "error", err)
		writeError(w, http.StatusBadRequest, resolutionMessage(err))
		return
	}
	if !res.IsVideo {
		writeError(w, http.StatusBadRequest, "This post is not a video")
		return
	}

	writeJSON(w, http.StatusOK, models.DownloadInfo{
		Success:     true,
		Message:     "Reel information retrieved successfully",
		VideoURL:    res.DirectURL,
		DownloadURL: fmt.Sprintf("/api/download-video/%s", id),
		Caption:     res.Caption,
		Likes:       res.Likes,
		Owner:       res.OwnerUsername,
		Shortcode:   id.String(),
		Date:        formatDate(res.PostedAt),
	})
}

// Stream resolves the shortcode afresh and relays the media bytes, honoring
// the client's Range header.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.log(r)

	id, err := utils.ValidateShortcode(mux.Vars(r)["shortcode"])
	if err != nil {
		writeError(w, streamStatus(fmt.Errorf("%w: %w", ErrInvalidInput, err)), inputMessage(err))
		return
	}

	res, err := h.Resolver.Resolve(ctx, h.resolutionRequest(id))
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("media.stream.client_gone", "shortcode", id, "stage", "resolve")
			return
		}
		logger.Info("media.stream.unresolved", "shortcode", id, "error", err)
		writeError(w, streamStatus(err), resolutionMessage(err))
		return
	}

	resp, err := h.Relay.Open(ctx, streaming.Request{
		DirectURL:   res.DirectURL,
		RangeHeader: r.Header.Get("Range"),
		Method:      r.Method,
		Shortcode:   id.String(),
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("media.stream.client_gone", "shortcode", id, "stage", "open")
			return
		}
		logger.Warn("media.stream.open_failed", "shortcode", id, "error", err)
		writeError(w, streamStatus(err), "Failed to stream video")
		return
	}
	defer resp.Close()

	written, err := h.Relay.Serve(ctx, w, resp)
	switch {
	case err == nil:
		logger.Debug("media.stream.done", "shortcode", id, "status", resp.Status, "bytes", written)
	case errors.Is(err, streaming.ErrClientGone):
		logger.Debug("media.stream.client_gone", "shortcode", id, "stage", "copy", "bytes", written)
	default:
		logger.Warn("media.stream.interrupted", "shortcode", id, "bytes", written, "error", err)
	}
}

func (h *MediaHandler) identifierFromBody(r *http.Request) (models.MediaIdentifier, error) {
	var request struct {
		URL string `json:"url"`
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: decode body: %v", ErrInvalidInput, err)
	}
	id, err := utils.ExtractShortcode(request.URL, h.media.AllowedDomains)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return id, nil
}

func (h *MediaHandler) resolutionRequest(id models.MediaIdentifier) models.ResolutionRequest {
	return models.ResolutionRequest{
		URL:       utils.CanonicalURL(h.media.CanonicalURLTemplate, id),
		Shortcode: id,
	}
}

func (h *MediaHandler) log(r *http.Request) *slog.Logger {
	if id := utils.RequestIDFromContext(r.Context()); id != "" {
		return h.logger.With("request_id", id)
	}
	return h.logger
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
