package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes. Configuration files may give it as a plain
// number or with a unit suffix ("16MiB", "4Mi", "512KB").
type ByteSize uint64

// ParseByteSize parses a human readable size. SI suffixes are powers of
// 1000, IEC suffixes powers of 1024.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// String formats the size with IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
