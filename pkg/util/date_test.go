package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

func TestParseTime(t *testing.T) {
	got, ok := ParseTime("2024-10-10T10:10:10Z", now)
	assert.True(t, ok)
	assert.Equal(t, "2024-10-10T10:10:10Z", got.Format(time.RFC3339))

	got, ok = ParseTime("2024-10-10T10:10:10.5+02:00", now)
	assert.True(t, ok)
	assert.Equal(t, 8, got.Hour())

	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok = ParseTime(strconv.FormatInt(ts, 10), now)
	assert.True(t, ok)
	assert.Equal(t, ts, got.Unix())

	got, ok = ParseTime("36h", now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-36*time.Hour), got)

	_, ok = ParseTime("yesterday", now)
	assert.False(t, ok)
}
