package vfs

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ReadFileString reads a file and decodes it with the named encoding:
// "" or "utf8"/"utf-8", "latin1", "base64", "hex".
func ReadFileString(ctx context.Context, fsys FS, path, encoding string) (string, error) {
	data, err := fsys.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8":
		if !utf8.Valid(data) {
			return "", PathErr("read", path, fmt.Errorf("%w: content is not valid utf-8", ErrInvalidOperation))
		}
		return string(data), nil
	case "latin1", "iso-8859-1":
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", PathErr("read", path, err)
		}
		return string(s), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	default:
		return "", PathErr("read", path, fmt.Errorf("%w: unknown encoding %q", ErrInvalidOperation, encoding))
	}
}

// WriteFileString encodes s with the named encoding and writes it.
func WriteFileString(ctx context.Context, fsys FS, path, s, encoding string) error {
	var data []byte
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8":
		data = []byte(s)
	case "latin1", "iso-8859-1":
		b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return PathErr("write", path, fmt.Errorf("%w: %v", ErrInvalidOperation, err))
		}
		data = b
	case "base64":
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return PathErr("write", path, fmt.Errorf("%w: %v", ErrInvalidOperation, err))
		}
		data = b
	case "hex":
		b, err := hex.DecodeString(s)
		if err != nil {
			return PathErr("write", path, fmt.Errorf("%w: %v", ErrInvalidOperation, err))
		}
		data = b
	default:
		return PathErr("write", path, fmt.Errorf("%w: unknown encoding %q", ErrInvalidOperation, encoding))
	}
	return fsys.WriteFile(ctx, path, data)
}
