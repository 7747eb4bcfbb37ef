package vfs

import (
	"fmt"
	"strconv"
	"strings"
)

// OrdinalFormat describes how a display position is encoded in a filename:
// a fixed-width, zero-padded decimal prefix followed by a separator.
// Byte-wise filename order equals ordinal order only while every sibling
// uses the same format.
type OrdinalFormat struct {
	Version   int
	Width     int
	Separator string
}

// OrdinalFormatV1 is the format of "0005_file5.md".
var OrdinalFormatV1 = OrdinalFormat{Version: 1, Width: 4, Separator: "_"}

// ErrOrdinalOverflow is returned when an ordinal does not fit the format width.
var ErrOrdinalOverflow = fmt.Errorf("%w: ordinal exceeds format width", ErrInvalidOperation)

// ErrMalformedOrdinal is returned for names without a valid ordinal prefix.
var ErrMalformedOrdinal = fmt.Errorf("%w: malformed ordinal prefix", ErrInvalidOperation)

// Max returns the largest ordinal the format can encode.
func (f OrdinalFormat) Max() int {
	m := 1
	for i := 0; i < f.Width; i++ {
		m *= 10
	}
	return m - 1
}

// Split separates name into its ordinal prefix digits and base name.
func (f OrdinalFormat) Split(name string) (prefix, base string, err error) {
	if len(name) < f.Width+len(f.Separator) {
		return "", "", fmt.Errorf("%q: %w", name, ErrMalformedOrdinal)
	}
	prefix = name[:f.Width]
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return "", "", fmt.Errorf("%q: %w", name, ErrMalformedOrdinal)
		}
	}
	if !strings.HasPrefix(name[f.Width:], f.Separator) {
		return "", "", fmt.Errorf("%q: %w", name, ErrMalformedOrdinal)
	}
	return prefix, name[f.Width+len(f.Separator):], nil
}

// Parse returns the ordinal and base name encoded in name.
func (f OrdinalFormat) Parse(name string) (int, string, error) {
	prefix, base, err := f.Split(name)
	if err != nil {
		return 0, "", err
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", fmt.Errorf("%q: %w", name, ErrMalformedOrdinal)
	}
	return n, base, nil
}

// Format encodes ordinal and base into a filename.
func (f OrdinalFormat) Format(ordinal int, base string) (string, error) {
	if ordinal < 0 || ordinal > f.Max() {
		return "", fmt.Errorf("%d: %w", ordinal, ErrOrdinalOverflow)
	}
	return fmt.Sprintf("%0*d%s%s", f.Width, ordinal, f.Separator, base), nil
}
