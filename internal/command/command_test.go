package command

import (
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/schedule"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want Command
	}{
		{
			name: "add",
			text: "add @bob 60 Hello",
			want: Command{Kind: KindAdd, Verb: "add", Recipient: "@bob", Interval: "60", Body: "Hello"},
		},
		{
			name: "add alias keeps body layout",
			text: "/spam@remindbot @bob 5 line one\nline  two ",
			want: Command{Kind: KindAdd, Verb: "spam", Recipient: "@bob", Interval: "5", Body: "line one\nline  two"},
		},
		{
			name: "leading self mention",
			text: "@RemindBot send @bob 10 hi there",
			want: Command{Kind: KindAdd, Verb: "send", Recipient: "@bob", Interval: "10", Body: "hi there"},
		},
		{
			name: "update joins timestamp",
			text: "update 2024-01-01 00:00:00 30",
			want: Command{Kind: KindUpdate, Verb: "update", Timestamp: "2024-01-01 00:00:00", Interval: "30"},
		},
		{
			name: "delete",
			text: "/remove 2024-01-01 00:00:00",
			want: Command{Kind: KindDelete, Verb: "remove", Timestamp: "2024-01-01 00:00:00"},
		},
		{
			name: "pause",
			text: "deactivate   2024-01-01   00:00:00",
			want: Command{Kind: KindPause, Verb: "deactivate", Timestamp: "2024-01-01 00:00:00"},
		},
		{
			name: "unpause",
			text: "Activate 2024-01-01 00:00:00",
			want: Command{Kind: KindUnpause, Verb: "activate", Timestamp: "2024-01-01 00:00:00"},
		},
		{name: "list", text: "/list", want: Command{Kind: KindList, Verb: "list"}},
		{name: "help", text: " help ", want: Command{Kind: KindHelp, Verb: "help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text, "remindbot")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIgnored(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"",
		"   ",
		"hello there",
		"list everything",
		"help me",
		"add @bob",
		"update 30",
		"/list@otherbot",
		"@remindbot",
	} {
		_, ok := Parse(text, "remindbot")
		assert.False(t, ok, "%q should not parse", text)
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()
	n, err := ParseInterval("60")
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	for _, raw := range []string{"0", "-5", "1.5", "ten", ""} {
		_, err := ParseInterval(raw)
		assert.True(t, errors.Is(err, ErrBadInterval), "%q", raw)
	}
}

func TestParseIntervalUpperBound(t *testing.T) {
	t.Parallel()
	n, err := ParseInterval(strconv.FormatInt(schedule.MaxInterval, 10))
	require.NoError(t, err)
	assert.Equal(t, schedule.MaxInterval, int64(n))
	assert.Equal(t, time.Duration(schedule.MaxInterval)*time.Second, schedule.Record{Interval: n}.Every())

	for _, raw := range []string{
		strconv.FormatInt(schedule.MaxInterval+1, 10),
		"10000000000",
		"20000000000",
		"99999999999999999999999",
	} {
		_, err := ParseInterval(raw)
		assert.True(t, errors.Is(err, ErrBadInterval), "%q", raw)
	}
	_, err = ParseInterval("10000000000")
	assert.NotEmpty(t, errors.GetAllHints(err))
}
