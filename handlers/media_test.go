package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sourcegraph/conc"

	"reelrelay/config"
	"reelrelay/models"
	"reelrelay/services/resolver"
	"reelrelay/services/streaming"
	"reelrelay/utils"
)

type fakeResolver struct {
	mu       sync.Mutex
	result   *models.ResolutionResult
	err      error
	requests []models.ResolutionRequest
}

func (f *fakeResolver) Resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testSettings() config.Settings {
	settings := config.DefaultSettings()
	settings.Media.AllowedDomains = []string{"example.com", "instagram.com"}
	settings.Streaming.Timeout = 5 * time.Second
	settings.Streaming.ChunkSize = 4096
	return settings
}

func newTestRouter(res resolverService, settings config.Settings) *mux.Router {
	relay := streaming.NewRelay(settings.Streaming, settings.Media.FilenamePrefix, nil)
	h := NewMediaHandler(res, relay, settings.Media, nil)
	r := utils.NewRouter(nil)
	h.Register(r)
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%q)", err, rec.Body.String())
	}
	if resp.Error == "" {
		t.Fatalf("expected non-empty error field")
	}
	return resp.Error
}

func TestInfoSuccess(t *testing.T) {
	duration := 14.2
	res := &fakeResolver{result: &models.ResolutionResult{
		DirectURL:       "https://cdn.example.com/v.mp4",
		IsVideo:         true,
		OwnerUsername:   "someone",
		Title:           "A reel",
		DurationSeconds: &duration,
	}}
	r := newTestRouter(res, testSettings())

	rec := postJSON(t, r, "/api/info", `{"url": "https://example.com/reel/ABC123/"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}

	var info models.MediaInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !info.Success || info.Shortcode != "ABC123" || info.OwnerUsername != "someone" || info.Title != "A reel" {
		t.Fatalf("unexpected response: %+v", info)
	}
	if info.VideoDuration == nil || *info.VideoDuration != duration {
		t.Fatalf("unexpected duration: %v", info.VideoDuration)
	}
	if len(res.requests) != 1 || res.requests[0].URL != "https://www.instagram.com/reel/ABC123/" {
		t.Fatalf("unexpected resolution requests: %+v", res.requests)
	}
}

func TestInfoRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty url", body: `{"url": ""}`, want: "URL is required"},
		{name: "missing url", body: `{}`, want: "URL is required"},
		{name: "wrong site", body: `{"url": "https://videos.test/reel/ABC/"}`, want: "Invalid Instagram URL"},
		{name: "not json", body: `not-json`, want: "Invalid request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := &fakeResolver{}
			rec := postJSON(t, newTestRouter(res, testSettings()), "/api/info", tc.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			if got := decodeError(t, rec); got != tc.want {
				t.Fatalf("expected error %q, got %q", tc.want, got)
			}
			if len(res.requests) != 0 {
				t.Fatalf("resolver must not be called for invalid input")
			}
		})
	}
}

func TestInfoResolutionFailure(t *testing.T) {
	res := &fakeResolver{err: fmt.Errorf("%w: %w", resolver.ErrResolutionFailed, &resolver.Failure{Kind: resolver.KindPrivate})}
	rec := postJSON(t, newTestRouter(res, testSettings()), "/api/info", `{"url": "https://www.instagram.com/p/XYZ/"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "private") {
		t.Fatalf("expected private-content hint, got %q", msg)
	}
}

func TestDownloadSuccessAndNonVideo(t *testing.T) {
	res := &fakeResolver{result: &models.ResolutionResult{
		DirectURL:     "https://cdn.example.com/v.mp4",
		IsVideo:       true,
		OwnerUsername: "someone",
		Caption:       "hello",
		PostedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	r := newTestRouter(res, testSettings())

	rec := postJSON(t, r, "/api/download", `{"url": "https://www.instagram.com/reel/ABC123/"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var info models.DownloadInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.DownloadURL != "/api/download-video/ABC123" || info.Owner != "someone" || info.Date != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected response: %+v", info)
	}

	res.result = &models.ResolutionResult{DirectURL: "https://cdn.example.com/i.jpg", IsVideo: false}
	rec = postJSON(t, r, "/api/download", `{"url": "https://www.instagram.com/p/IMG1/"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "This post is not a video" {
		t.Fatalf("unexpected error %q", got)
	}
}

func newUpstream(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "v.mp4", time.Time{}, bytes.NewReader(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamRangeRequest(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	upstream := newUpstream(t, payload)
	res := &fakeResolver{result: &models.ResolutionResult{DirectURL: upstream.URL + "/v.mp4", IsVideo: true}}
	r := newTestRouter(res, testSettings())

	req := httptest.NewRequest(http.MethodGet, "/api/stream-video/ABC123", nil)
	req.Header.Set("Range", "bytes=100-199")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "100" {
		t.Fatalf("unexpected Content-Length %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="instagram_reel_ABC123.mp4"` {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload[100:200]) {
		t.Fatalf("body mismatch")
	}
}

func TestStreamFullDownloadAlias(t *testing.T) {
	payload := bytes.Repeat([]byte("m"), 10000)
	upstream := newUpstream(t, payload)
	res := &fakeResolver{result: &models.ResolutionResult{DirectURL: upstream.URL, IsVideo: true}}
	r := newTestRouter(res, testSettings())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download-video/ABC123", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if _, ok := rec.Header()["Content-Range"]; ok {
		t.Fatalf("full download must not carry Content-Range")
	}
	if rec.Body.Len() != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), rec.Body.Len())
	}
}

func TestStreamResolutionFailureIs404(t *testing.T) {
	res := &fakeResolver{err: fmt.Errorf("%w: %w", resolver.ErrResolutionFailed, &resolver.Failure{Kind: resolver.KindNotFound})}
	rec := httptest.NewRecorder()
	newTestRouter(res, testSettings()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream-video/ABC123", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	decodeError(t, rec)
}

func TestStreamUpstreamFailureIs500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired signature", http.StatusForbidden)
	}))
	defer upstream.Close()

	res := &fakeResolver{result: &models.ResolutionResult{DirectURL: upstream.URL, IsVideo: true}}
	rec := httptest.NewRecorder()
	newTestRouter(res, testSettings()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream-video/ABC123", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); strings.Contains(msg, "expired signature") {
		t.Fatalf("upstream details must not leak to the client: %q", msg)
	}
}

func TestStreamInvalidShortcode(t *testing.T) {
	res := &fakeResolver{}
	rec := httptest.NewRecorder()
	newTestRouter(res, testSettings()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream-video/bad%20code", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if len(res.requests) != 0 {
		t.Fatalf("resolver must not be called for an invalid shortcode")
	}
}

func TestStreamPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeResolver{}, testSettings()).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/stream-video/ABC123", nil))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStreamConcurrentRequestsAreIndependent(t *testing.T) {
	payload := bytes.Repeat([]byte("c"), 64*1024)
	upstream := newUpstream(t, payload)
	res := &fakeResolver{result: &models.ResolutionResult{DirectURL: upstream.URL, IsVideo: true}}
	srv := httptest.NewServer(newTestRouter(res, testSettings()))
	defer srv.Close()

	var wg conc.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Go(func() {
			resp, err := http.Get(srv.URL + "/api/stream-video/ABC123")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			if resp.StatusCode != http.StatusOK || len(body) != len(payload) {
				errs <- fmt.Errorf("status %d, %d bytes", resp.StatusCode, len(body))
			}
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if len(res.requests) != 16 {
		t.Fatalf("expected one resolution per request, got %d", len(res.requests))
	}
}

// End to end through the real retrier and provider client.
func TestInfoEndToEndWithProvider(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Shortcode string `json:"shortcode"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"video_url":"https://cdn.example.com/%s.mp4","is_video":true,"owner_username":"owner","title":"t","video_duration":3}`, body.Shortcode)
	}))
	defer provider.Close()

	settings := testSettings()
	settings.Resolver.ProviderURL = provider.URL
	retrier := resolver.NewRetrier(resolver.NewHTTPClient(settings.Resolver, nil), settings.Resolver)

	rec := postJSON(t, newTestRouter(retrier, settings), "/api/info", `{"url": "https://example.com/reel/ABC123/"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info["success"] != true || info["shortcode"] != "ABC123" || info["owner_username"] != "owner" {
		t.Fatalf("unexpected response: %v", info)
	}

	rec = postJSON(t, newTestRouter(retrier, settings), "/api/info", `{"url": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	decodeError(t, rec)
}
