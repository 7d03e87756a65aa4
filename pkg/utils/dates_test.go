package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2021-12-06T02:06:08Z", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"2021-12-06T04:06:08+02:00", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"2021-12-06T02:06:08", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"2021-12-06 02:06:08", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"2021-12-06", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"20211206", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"20211206T020608", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"20211206T040608+02:00", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"20211206T020608Z", time.Date(2021, 12, 6, 2, 6, 8, 0, time.UTC)},
		{"2021-3-7", time.Date(2021, 3, 7, 0, 0, 0, 0, time.UTC)},
		{"06-12-2021", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"12/06/2021", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"2021/12/06", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"6 Dec 2021", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"06 December 2021", time.Date(2021, 12, 6, 0, 0, 0, 0, time.UTC)},
		{"1987", time.Date(1987, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"  1987  ", time.Date(1987, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := ParsePublicDate(tc.in)
			require.NotNil(t, got)
			assert.True(t, tc.want.Equal(*got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParsePublicDate_Unsupported(t *testing.T) {
	for _, in := range []interface{}{nil, "", "Unknown", "yesterday", "2021-13-45", "87", "31/12/2021", "20211306", json.Number("0"), false} {
		assert.Nil(t, ParsePublicDate(in), "%v", in)
	}
}

func TestParsePublicDate_NumericYear(t *testing.T) {
	got := ParsePublicDate(json.Number("1999"))
	require.NotNil(t, got)
	assert.Equal(t, 1999, got.Year())
}
