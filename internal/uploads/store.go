// Package uploads stores image attachments and hands out permanent URLs.
package uploads

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("upload not found")
	ErrUnsupportedImage = errors.New("unsupported image data")
)

// MaxImageBytes bounds a single decoded upload.
const MaxImageBytes = 5 << 20

// Store keeps image blobs in a Pebble database.
type Store struct {
	db      *pebble.DB
	baseURL string
}

// Open opens (or creates) the blob database at dir. URLs returned by Upload
// are rooted at baseURL.
func Open(dir, baseURL string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open upload store: %w", err)
	}
	return &Store{db: db, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upload decodes a data URI or bare base64 image, stores it and returns its
// permanent URL.
func (s *Store) Upload(ctx context.Context, raw string) (string, error) {
	data, err := decode(raw)
	if err != nil {
		return "", err
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", ErrUnsupportedImage, MaxImageBytes)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrUnsupportedImage, mt.String())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(typeKey(id), []byte(mt.String()), nil); err != nil {
		return "", err
	}
	if err := batch.Set(dataKey(id), data, nil); err != nil {
		return "", err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("commit upload: %w", err)
	}
	return s.baseURL + "/uploads/" + id, nil
}

// Get returns a stored blob and its content type.
func (s *Store) Get(id string) ([]byte, string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, "", ErrNotFound
	}
	contentType, err := s.read(typeKey(id))
	if err != nil {
		return nil, "", err
	}
	data, err := s.read(dataKey(id))
	if err != nil {
		return nil, "", err
	}
	return data, string(contentType), nil
}

func (s *Store) read(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func decode(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		comma := strings.IndexByte(raw, ',')
		if comma < 0 || !strings.HasSuffix(raw[:comma], ";base64") {
			return nil, fmt.Errorf("%w: malformed data uri", ErrUnsupportedImage)
		}
		raw = raw[comma+1:]
	}
	// Padding makes DecodedLen overshoot by at most two bytes.
	if base64.StdEncoding.DecodedLen(len(raw)) > MaxImageBytes+2 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUnsupportedImage, MaxImageBytes)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	return data, nil
}

func typeKey(id string) []byte { return []byte("img/" + id + "/type") }
func dataKey(id string) []byte { return []byte("img/" + id + "/data") }
