// Package artifact 存储生成的图像字节，并返回基于内容哈希的引用。
//
// 引用格式为 artifact://<sha256>.<ext>；相同字节总是得到相同引用。
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Scheme prefixes every reference produced by this package.
const Scheme = "artifact://"

// ErrNotFound is returned by Get for unknown or expired references.
var ErrNotFound = errors.New("artifact not found")

// Store persists image bytes.
type Store interface {
	Put(ctx context.Context, data []byte, mime string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, string, error)
}

// Ref returns the content-addressed reference for data.
func Ref(data []byte, mime string) string {
	sum := sha256.Sum256(data)
	return Scheme + hex.EncodeToString(sum[:]) + "." + Extension(mime)
}

// Extension maps a MIME type to a file extension.
func Extension(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}

// MIMEFromExtension is the inverse of Extension.
func MIMEFromExtension(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// parseRef splits a reference into its key (hash.ext) and extension.
func parseRef(ref string) (key, ext string, err error) {
	key, ok := strings.CutPrefix(ref, Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an artifact reference: %q", ref)
	}
	hash, ext, ok := strings.Cut(key, ".")
	if !ok || len(hash) != sha256.Size*2 {
		return "", "", fmt.Errorf("malformed artifact reference: %q", ref)
	}
	return key, ext, nil
}

// IsRef reports whether ref was produced by this package.
func IsRef(ref string) bool {
	_, _, err := parseRef(ref)
	return err == nil
}
