package photo

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedTypes is the upload allow-list, checked against both the declared and
// the sniffed type.
var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"image/heic": {},
	"image/heif": {},
}

// Allowed reports whether an upload with the declared type, name and leading
// bytes is an accepted image.
func Allowed(declared, filename string, head []byte) bool {
	if isAllowed(declared) {
		return true
	}
	if LooksHEIC(declared, filename) {
		return true
	}
	if len(head) == 0 {
		return false
	}
	return isAllowed(mimetype.Detect(head).String())
}

func isAllowed(m string) bool {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.Index(m, ";"); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	_, ok := allowedTypes[m]
	return ok
}
