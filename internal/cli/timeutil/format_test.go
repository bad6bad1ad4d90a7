package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5s", "5s"},
		{"90s", "1m 30s"},
		{"2h0m1s", "2h 0m 1s"},
		{"72h30m15s", "3d 0h 30m 15s"},
		{"1.5s", "1s"},
		{"garbage", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUptime(tt.in))
		})
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))

	ts := time.Date(2026, 3, 2, 10, 4, 5, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(LocalTimeFormat), FormatTime(ts))
}
