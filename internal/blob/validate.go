package blob

import (
	"fmt"
	"net/http"
	"strings"
)

const mb = 1 << 20

// Policy lists what an upload slot accepts.
type Policy struct {
	Name    string
	MaxSize int64
	// Types maps accepted MIME types to their canonical extension.
	Types map[string]string
	// Sniff verifies image content against the declared type.
	Sniff bool
}

var imageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var (
	ProfilePhoto = Policy{Name: "profile photo", MaxSize: 5 * mb, Types: imageTypes, Sniff: true}
	VaultPhoto   = Policy{Name: "vault photo", MaxSize: 10 * mb, Types: imageTypes, Sniff: true}
	Document     = Policy{Name: "document", MaxSize: 10 * mb, Types: map[string]string{
		"application/pdf":    "pdf",
		"application/msword": "doc",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
		"image/jpeg": "jpg",
		"image/png":  "png",
	}}
)

// Validate checks a declared content type and size against the policy.
// head is the first bytes of the file, used for sniffing images. It returns
// the extension to store the blob under.
func (p Policy) Validate(contentType string, size int64, head []byte) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidFile, p.Name)
	}
	if size > p.MaxSize {
		return "", fmt.Errorf("%w: %s exceeds %dMB", ErrInvalidFile, p.Name, p.MaxSize/mb)
	}
	ct := normalizeType(contentType)
	ext, ok := p.Types[ct]
	if !ok {
		return "", fmt.Errorf("%w: %s type %q not allowed", ErrInvalidFile, p.Name, contentType)
	}
	if p.Sniff && strings.HasPrefix(ct, "image/") && len(head) > 0 {
		if sniffed := normalizeType(http.DetectContentType(head)); sniffed != ct {
			return "", fmt.Errorf("%w: content looks like %s, declared %s", ErrInvalidFile, sniffed, ct)
		}
	}
	return ext, nil
}

func normalizeType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}
