package utils

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mozillazg/go-unidecode"
)

const defaultExtension = ".mp4"

// DownloadFilename builds the attachment filename for a relayed download. The
// extension comes from the upstream Content-Type value; the body is never sniffed.
func DownloadFilename(prefix, shortcode, contentType string) string {
	base := sanitizeFilename(prefix + "_" + shortcode)
	if base == "" {
		base = "download"
	}
	return base + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return defaultExtension
	}
	m := mimetype.Lookup(mediaType)
	if m == nil || m.Extension() == "" {
		return defaultExtension
	}
	return m.Extension()
}

// sanitizeFilename romanizes the value and keeps only characters that are safe
// inside a quoted Content-Disposition filename.
func sanitizeFilename(value string) string {
	romanized := strings.TrimSpace(unidecode.Unidecode(value))
	var b strings.Builder
	b.Grow(len(romanized))
	lastUnderscore := false
	for _, r := range romanized {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_.")
}
