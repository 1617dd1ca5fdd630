package models

import "time"

// MediaIdentifier is the shortcode that names one post on the source platform.
type MediaIdentifier string

func (id MediaIdentifier) String() string { return string(id) }

// ResolutionRequest is what gets submitted to the resolution provider for a single attempt.
type ResolutionRequest struct {
	URL       string          `json:"url"`
	Shortcode MediaIdentifier `json:"shortcode"`
}

// ResolutionResult is a successful provider answer. DirectURL is ephemeral and
// must only be used for the request that produced it; the rest is best-effort metadata.
type ResolutionResult struct {
	DirectURL       string
	IsVideo         bool
	OwnerUsername   string
	Title           string
	DurationSeconds *float64
	Caption         string
	Likes           int64
	Comments        int64
	PostedAt        time.Time
}

// MediaInfo is the body returned by the info endpoint.
type MediaInfo struct {
	Success       bool     `json:"success"`
	Shortcode     string   `json:"shortcode"`
	OwnerUsername string   `json:"owner_username"`
	Title         string   `json:"title"`
	VideoDuration *float64 `json:"video_duration"`
	IsVideo       bool     `json:"is_video"`
	Caption       string   `json:"caption"`
	Likes         int64    `json:"likes"`
	Comments      int64    `json:"comments"`
	Date          string   `json:"date,omitempty"`
}

// DownloadInfo is the body returned by the download endpoint.
type DownloadInfo struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	VideoURL    string `json:"video_url"`
	DownloadURL string `json:"download_url"`
	Caption     string `json:"caption"`
	Likes       int64  `json:"likes"`
	Owner       string `json:"owner"`
	Shortcode   string `json:"shortcode"`
	Date        string `json:"date,omitempty"`
}
