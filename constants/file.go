package constants

import "strings"

// AllowedImageExtensions holds the answer-sheet image types the replay screen accepts.
var AllowedImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
}

// CaptureMIMEType is the only image type sent to providers.
const CaptureMIMEType = "image/jpeg"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsImageExt reports whether ext (with or without dot) is an accepted capture image.
func IsImageExt(ext string) bool {
	_, ok := AllowedImageExtensions[NormalizeExt(ext)]
	return ok
}
