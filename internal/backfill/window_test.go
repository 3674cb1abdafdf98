package backfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarterOf(t *testing.T) {
	t.Parallel()

	for month, want := range map[time.Month]int{
		time.January: 1, time.March: 1, time.April: 2, time.June: 2,
		time.July: 3, time.September: 3, time.October: 4, time.December: 4,
	} {
		assert.Equal(t, want, QuarterOf(time.Date(2024, month, 15, 0, 0, 0, 0, time.UTC)), month.String())
	}
}

func TestPreviousQuarter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		now  time.Time
		want Window
	}{
		{time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC), Window{Year: 2024, Quarter: 1}},
		{time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), Window{Year: 2023, Quarter: 3}},
		{time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC), Window{Year: 2024, Quarter: 3}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, PreviousQuarter(tc.now, 125*24*time.Hour), tc.now.String())
	}
}

func TestPreviousQuarterUsesUTC(t *testing.T) {
	t.Parallel()

	taipei := time.FixedZone("CST", 8*3600)
	// 2024-04-01 02:00 in Taipei is still March 31 in UTC.
	now := time.Date(2024, time.April, 1, 2, 0, 0, 0, taipei)
	assert.Equal(t, Window{Year: 2024, Quarter: 1}, PreviousQuarter(now, 0))
}

func TestPreviousYear(t *testing.T) {
	t.Parallel()

	w := PreviousYear(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, Window{Year: 2024, Quarter: Annual}, w)
	assert.Equal(t, "", w.QuarterLabel())
	assert.Equal(t, "2024", w.String())
}

func TestDay(t *testing.T) {
	t.Parallel()

	w := Day(time.Date(2024, time.July, 4, 7, 1, 0, 0, time.UTC))
	assert.True(t, w.IsDaily())
	assert.Equal(t, "2024-07-04", w.String())
	assert.True(t, w.Equal(Day(time.Date(2024, time.July, 4, 23, 59, 0, 0, time.UTC))))
	assert.False(t, w.Equal(Day(time.Date(2024, time.July, 5, 0, 0, 0, 0, time.UTC))))
	assert.False(t, w.Equal(Window{Year: 2024, Quarter: 3}))
}

func TestWindowEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, Window{Year: 2024, Quarter: 1}.Equal(Window{Year: 2024, Quarter: 1}))
	assert.False(t, Window{Year: 2024, Quarter: 1}.Equal(Window{Year: 2024, Quarter: 2}))
	assert.False(t, Window{Year: 2024, Quarter: 1}.Equal(Window{Year: 2023, Quarter: 1}))
	assert.Equal(t, "2024-Q2", Window{Year: 2024, Quarter: 2}.String())
}

func TestParseQuarterLabel(t *testing.T) {
	t.Parallel()

	for q := 1; q <= 4; q++ {
		got, err := ParseQuarterLabel(Window{Year: 2024, Quarter: q}.QuarterLabel())
		require.NoError(t, err)
		assert.Equal(t, q, got)
	}
	got, err := ParseQuarterLabel("")
	require.NoError(t, err)
	assert.Equal(t, Annual, got)

	_, err = ParseQuarterLabel("Q5")
	require.Error(t, err)
}
