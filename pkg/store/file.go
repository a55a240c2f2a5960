package store

import (
	"fmt"
	"strings"

	"github.com/dh7/mindcache/pkg/mcerr"
)

// SetFile base64-encodes a binary blob and writes it as an image or file
// entry with contentType carried on the entry's attributes (spec §4.1).
func (s *Store) SetFile(key string, blob []byte, contentType string, kind Kind) error {
	if kind != KindImage && kind != KindFile {
		return mcerr.New(mcerr.InvalidValue, "SetFile kind must be image or file")
	}
	existing, _ := s.GetAttributes(key)
	existing.ContentType = contentType
	value := NewBinaryValue(kind, blob)
	return s.Set(key, value, &existing)
}

// GetDataURL reconstructs a data: URL for an image/file entry (spec
// §4.1, §8 round-trip).
func (s *Store) GetDataURL(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	bin, ok := v.(BinaryValue)
	if !ok {
		return "", mcerr.New(mcerr.InvalidValue, fmt.Sprintf("key %q is not an image/file value", key))
	}
	attrs, err := s.GetAttributes(key)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(attrs.ContentType)
	b.WriteString(";base64,")
	b.WriteString(bin.Base64)
	return b.String(), nil
}
