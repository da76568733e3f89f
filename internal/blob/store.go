// Package blob stores uploaded files under opaque keys and hands out
// time-limited read links.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("blob not found")

type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName keeps the base name of filename and replaces anything outside
// a conservative character set.
func SanitizeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	if name == "" {
		name = "file"
	}
	return name
}

// NewKey returns a collision-resistant key scoped by batch.
func NewKey(batchID int64, filename string) string {
	return fmt.Sprintf("batch/%d/%s_%s", batchID, uuid.NewString(), SanitizeName(filename))
}
