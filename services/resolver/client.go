package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"reelrelay/config"
	"reelrelay/internal/metrics"
	"reelrelay/models"
)

const (
	maxProviderBody   = 1 << 20
	maxCaptionRunes   = 200
	emptyCaptionValue = "No caption"
)

//go:generate mockgen -source=client.go -destination=mocks/mock_provider.go -package=mocks Provider

// Provider resolves a post URL into a direct media URL. Implementations make a
// single attempt; retrying is the Retrier's job.
type Provider interface {
	Resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error)
}

// HTTPClient talks to an external resolution provider over JSON/HTTP.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*HTTPClient)(nil)

type providerRequest struct {
	URL       string `json:"url"`
	Shortcode string `json:"shortcode,omitempty"`
}

type providerResponse struct {
	VideoURL      string   `json:"video_url"`
	IsVideo       *bool    `json:"is_video"`
	OwnerUsername string   `json:"owner_username"`
	Title         string   `json:"title"`
	VideoDuration *float64 `json:"video_duration"`
	Caption       string   `json:"caption"`
	Likes         int64    `json:"likes"`
	Comments      int64    `json:"comments"`
	Date          string   `json:"date"`
	Error         string   `json:"error"`
	Reason        string   `json:"reason"`
}

// NewHTTPClient builds a provider client bounded by the configured resolve timeout.
func NewHTTPClient(cfg config.ResolverSettings, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		endpoint:   cfg.ProviderURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Resolve performs exactly one round trip to the provider.
func (c *HTTPClient) Resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error) {
	result, err := c.resolve(ctx, req)
	if err != nil {
		kind, _ := FailureKind(err)
		metrics.ResolveAttemptsTotal.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	metrics.ResolveAttemptsTotal.WithLabelValues("success").Inc()
	return result, nil
}

func (c *HTTPClient) resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(providerRequest{URL: req.URL, Shortcode: req.Shortcode.String()})
	if err != nil {
		return nil, &Failure{Kind: KindInvalidIdentifier, Message: "encode provider request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Failure{Kind: KindProvider, Message: "build provider request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Failure{Kind: KindNetwork, Message: "provider request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, &Failure{Kind: KindNetwork, Message: "read provider response", Err: err}
	}

	var decoded providerResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK {
		kind := kindFromReason(decoded.Reason)
		if kind == "" {
			kind = kindFromStatus(resp.StatusCode)
		}
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = fmt.Sprintf("provider returned %s", resp.Status)
		}
		c.logger.Debug("resolver.provider.rejected",
			"shortcode", req.Shortcode, "status", resp.StatusCode, "kind", kind)
		return nil, &Failure{Kind: kind, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Failure{Kind: KindProvider, Message: "decode provider response", Err: decodeErr}
	}
	if msg := strings.TrimSpace(decoded.Error); msg != "" {
		kind := kindFromReason(decoded.Reason)
		if kind == "" {
			kind = KindProvider
		}
		return nil, &Failure{Kind: kind, Message: msg}
	}

	directURL := strings.TrimSpace(decoded.VideoURL)
	if directURL == "" {
		if decoded.IsVideo != nil && !*decoded.IsVideo {
			return nil, &Failure{Kind: KindNotVideo, Message: "post is not a video"}
		}
		return nil, &Failure{Kind: KindEmptyResult, Message: "provider returned no media url"}
	}

	result := &models.ResolutionResult{
		DirectURL:       directURL,
		IsVideo:         decoded.IsVideo == nil || *decoded.IsVideo,
		OwnerUsername:   strings.TrimSpace(decoded.OwnerUsername),
		Title:           strings.TrimSpace(decoded.Title),
		DurationSeconds: decoded.VideoDuration,
		Caption:         truncateCaption(decoded.Caption),
		Likes:           decoded.Likes,
		Comments:        decoded.Comments,
	}
	if decoded.Date != "" {
		if posted, err := time.Parse(time.RFC3339, decoded.Date); err == nil {
			result.PostedAt = posted.UTC()
		}
	}
	return result, nil
}

func kindFromReason(reason string) Kind {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "invalid", "invalid_identifier", "bad_request":
		return KindInvalidIdentifier
	case "private", "login_required":
		return KindPrivate
	case "not_found", "deleted":
		return KindNotFound
	case "not_video":
		return KindNotVideo
	case "rate_limited", "too_many_requests":
		return KindRateLimited
	}
	return ""
}

func kindFromStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindInvalidIdentifier
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindPrivate
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindProvider
	}
}

func truncateCaption(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return emptyCaptionValue
	}
	if utf8.RuneCountInString(caption) <= maxCaptionRunes {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:maxCaptionRunes])
}
