package utils

import (
	"path"
	"strings"
	"unicode"
)

// SanitizeHeaderFilename removes characters that can break headers.
func SanitizeHeaderFilename(name string) string {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "download"
	}
	clean = strings.ReplaceAll(clean, "\r", "")
	clean = strings.ReplaceAll(clean, "\n", "")
	clean = strings.ReplaceAll(clean, "\"", "")
	return clean
}

// SanitizeUploadName keeps the base name of a client supplied filename and strips
// control and path characters.
func SanitizeUploadName(name string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	clean = path.Base(clean)
	clean = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, clean)
	clean = strings.Trim(clean, ". ")
	if clean == "" {
		return "unnamed"
	}
	if len(clean) > 255 {
		ext := path.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:255-len(ext)] + ext
	}
	return clean
}

// SanitizeArchiveName makes name safe as a flat zip entry.
func SanitizeArchiveName(name string) string {
	clean := strings.TrimSpace(name)
	clean = strings.ReplaceAll(clean, "\\", "/")
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "..", "_")
	if clean == "" || clean == "." {
		return "unnamed"
	}
	return clean
}
