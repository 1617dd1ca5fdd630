package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"reelrelay/config"
	"reelrelay/internal/metrics"
	"reelrelay/utils"
)

const maxErrorSnippet = 2048

// Headers copied verbatim from the upstream response.
var passthroughHeaders = []string{"Accept-Ranges", "Content-Length", "Content-Type"}

// Relay opens ephemeral upstream media URLs and forwards them to clients.
type Relay struct {
	httpClient  *http.Client
	idleTimeout time.Duration
	chunkSize   int
	userAgent   string
	prefix      string
	buffers     sync.Pool
	logger      *slog.Logger
}

// NewRelay builds a relay from the streaming settings. prefix is prepended to
// every attachment filename. cfg.Timeout bounds each wait on the upstream
// (response headers, then every chunk read), never the whole transfer.
func NewRelay(cfg config.StreamingSettings, prefix string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	r := &Relay{
		httpClient:  &http.Client{Transport: transport},
		idleTimeout: cfg.Timeout,
		chunkSize:   chunkSize,
		userAgent:   cfg.UserAgent,
		prefix:      prefix,
		logger:      logger,
	}
	r.buffers.New = func() any {
		buf := make([]byte, r.chunkSize)
		return &buf
	}
	return r
}

// Open issues the upstream request, forwarding the client's Range header
// untouched. Only 200 and 206 are accepted; any other status closes the
// upstream body and returns an *UpstreamError.
func (r *Relay) Open(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("unsupported relay method %q", method)
	}

	sessionCtx, session := newSession(ctx, r.idleTimeout)
	httpReq, err := http.NewRequestWithContext(sessionCtx, method, req.DirectURL, nil)
	if err != nil {
		session.Close()
		return nil, &UpstreamError{Err: fmt.Errorf("build upstream request: %w", err)}
	}
	if req.RangeHeader != "" {
		httpReq.Header.Set("Range", req.RangeHeader)
	}
	if r.userAgent != "" {
		httpReq.Header.Set("User-Agent", r.userAgent)
	}
	// Transparent gzip would rewrite Content-Length and break range offsets.
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := r.httpClient.Do(httpReq)
	session.disarmIdle()
	if err != nil {
		session.Close()
		if stallErr := session.stallError(err); stallErr != nil {
			return nil, stallErr
		}
		return nil, &UpstreamError{Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
		resp.Body.Close()
		session.Close()
		r.logger.Warn("relay.upstream.rejected",
			"shortcode", req.Shortcode, "status", resp.StatusCode, "range", req.RangeHeader)
		return nil, &UpstreamError{Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(snippet)))}
	}

	headers := make(http.Header)
	for _, key := range passthroughHeaders {
		if values := resp.Header.Values(key); len(values) > 0 {
			headers[key] = append([]string(nil), values...)
		}
	}
	if resp.StatusCode == http.StatusPartialContent {
		if values := resp.Header.Values("Content-Range"); len(values) > 0 {
			headers["Content-Range"] = append([]string(nil), values...)
		}
	}
	if headers.Get("Content-Length") == "" && resp.ContentLength >= 0 {
		headers.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/octet-stream")
	}

	filename := utils.DownloadFilename(r.prefix, req.Shortcode, headers.Get("Content-Type"))
	headers.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	headers.Set("Cache-Control", "no-cache")

	r.logger.Debug("relay.upstream.opened",
		"shortcode", req.Shortcode,
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
		"content_range", headers.Get("Content-Range"),
		"range", req.RangeHeader)

	metrics.ActiveRelays.Inc()
	session.Body = resp.Body
	session.Headers = headers
	session.Status = resp.StatusCode
	session.ContentLength = resp.ContentLength
	session.Filename = filename
	session.onClose = metrics.ActiveRelays.Dec
	return session, nil
}

// Serve writes the status, headers and body of resp to w. Each chunk is read
// only after the previous one was written and flushed, so a slow client
// throttles the upstream read. The caller still owns resp and must Close it.
func (r *Relay) Serve(ctx context.Context, w http.ResponseWriter, resp *Response) (int64, error) {
	dst := w.Header()
	for key, values := range resp.Headers {
		dst[key] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.Status)

	if resp.Body == nil {
		metrics.RelaySessionsTotal.WithLabelValues("complete").Inc()
		return 0, nil
	}

	written, err := r.copy(ctx, w, resp)
	metrics.RelayBytesTotal.Add(float64(written))

	switch {
	case err == nil:
		metrics.RelaySessionsTotal.WithLabelValues("complete").Inc()
		r.logger.Debug("relay.session.complete", "filename", resp.Filename, "bytes", written)
	case errors.Is(err, ErrClientGone):
		metrics.RelaySessionsTotal.WithLabelValues("client_gone").Inc()
		r.logger.Debug("relay.session.client_gone", "filename", resp.Filename, "bytes", written, "error", err)
	default:
		metrics.RelaySessionsTotal.WithLabelValues("upstream_error").Inc()
		r.logger.Warn("relay.session.upstream_error", "filename", resp.Filename, "bytes", written, "error", err)
	}
	return written, err
}

func (r *Relay) copy(ctx context.Context, w http.ResponseWriter, resp *Response) (int64, error) {
	bufp := r.buffers.Get().(*[]byte)
	defer r.buffers.Put(bufp)
	buf := *bufp

	rc := http.NewResponseController(w)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", ErrClientGone, err)
		}

		resp.armIdle()
		n, readErr := resp.Body.Read(buf)
		resp.disarmIdle()
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("%w: %w", ErrClientGone, writeErr)
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, fmt.Errorf("%w: %w", ErrClientGone, err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			if ctx.Err() != nil {
				return written, fmt.Errorf("%w: %w", ErrClientGone, ctx.Err())
			}
			if stallErr := resp.stallError(readErr); stallErr != nil {
				return written, stallErr
			}
			return written, &UpstreamError{Err: readErr}
		}
	}
}
