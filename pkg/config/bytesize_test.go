package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"1024", 1024},
		{"4Mi", 4 << 20},
		{"16MiB", 16 << 20},
		{"16 MiB", 16 << 20},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"2GiB", 2 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseByteSize("lots")
		assert.Error(t, err)
	})
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "16 MiB", ByteSize(16<<20).String())
	assert.Equal(t, "512 B", ByteSize(512).String())
}
