package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"reelrelay/models"
)

var (
	ErrEmptyURL         = errors.New("URL is required")
	ErrUnsupportedURL   = errors.New("URL does not point to a supported site")
	ErrNoShortcode      = errors.New("URL does not contain a media shortcode")
	ErrInvalidShortcode = errors.New("invalid media shortcode")
)

var (
	shortcodePath    = regexp.MustCompile(`^/(?:reel|reels|p|tv)/([A-Za-z0-9_-]+)`)
	shortcodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ExtractShortcode pulls the media shortcode out of a post URL whose host
// belongs to one of the allowed domains.
func ExtractShortcode(rawURL string, allowedDomains []string) (models.MediaIdentifier, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if !hostAllowed(parsed.Hostname(), allowedDomains) {
		return "", ErrUnsupportedURL
	}

	match := shortcodePath.FindStringSubmatch(parsed.EscapedPath())
	if match == nil {
		return "", ErrNoShortcode
	}
	return models.MediaIdentifier(match[1]), nil
}

// ValidateShortcode checks a bare shortcode taken from a route parameter.
func ValidateShortcode(raw string) (models.MediaIdentifier, error) {
	if !shortcodePattern.MatchString(raw) {
		return "", ErrInvalidShortcode
	}
	return models.MediaIdentifier(raw), nil
}

// CanonicalURL rebuilds the post URL the provider expects for a shortcode.
func CanonicalURL(template string, id models.MediaIdentifier) string {
	return fmt.Sprintf(template, id)
}

func hostAllowed(host string, allowedDomains []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registrable = host
	}
	for _, domain := range allowedDomains {
		if host == domain || registrable == domain {
			return true
		}
	}
	return false
}
