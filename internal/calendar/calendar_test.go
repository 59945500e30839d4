package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewSkipsWeekendsAndHolidays(t *testing.T) {
	c := New(d("2024-01-01"), d("2024-01-12"), Weekdays, []time.Time{d("2024-01-01")})

	days := c.Days()
	require.Len(t, days, 8)
	assert.Equal(t, d("2024-01-02"), days[0])
	assert.Equal(t, d("2024-01-12"), days[len(days)-1])
	assert.False(t, c.Contains(d("2024-01-06")), "saturday")
	assert.False(t, c.Contains(d("2024-01-01")), "extra holiday")
}

func TestBefore(t *testing.T) {
	c := New(d("2024-01-01"), d("2024-01-31"), Weekdays, nil)

	tests := []struct {
		name   string
		date   string
		n      int
		wantOK bool
		first  string
		last   string
	}{
		{"full window", "2024-01-15", 5, true, "2024-01-08", "2024-01-12"},
		{"date on weekend", "2024-01-13", 2, true, "2024-01-11", "2024-01-12"},
		{"too short", "2024-01-03", 5, false, "2024-01-01", "2024-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, ok := c.Before(d(tt.date), tt.n)
			assert.Equal(t, tt.wantOK, ok)
			require.NotEmpty(t, days)
			assert.Equal(t, d(tt.first), days[0])
			assert.Equal(t, d(tt.last), days[len(days)-1])
		})
	}
}

func TestCoveringExtendsBackward(t *testing.T) {
	c := Covering(d("2024-02-01"), d("2024-02-29"), 10, Weekdays, nil)

	days, ok := c.Before(d("2024-02-01"), 10)
	require.True(t, ok)
	assert.Equal(t, d("2024-01-18"), days[0])
}

func TestBetweenAndShiftBack(t *testing.T) {
	c := New(d("2024-03-01"), d("2024-03-29"), Weekdays, nil)

	got := c.Between(d("2024-03-09"), d("2024-03-12"))
	assert.Equal(t, []time.Time{d("2024-03-11"), d("2024-03-12")}, got)
	assert.Equal(t, d("2024-03-08"), c.ShiftBack(d("2024-03-12"), 2))
	assert.Equal(t, d("2024-03-01"), c.ShiftBack(d("2024-03-05"), 100))
	assert.Equal(t, -1, c.Ordinal(d("2024-03-02")))
}

func TestExchangeDaysXNYS(t *testing.T) {
	isBusiness, err := ExchangeDays("XNYS")
	require.NoError(t, err)

	assert.True(t, isBusiness(d("2024-07-03")))
	assert.False(t, isBusiness(d("2024-07-04")), "independence day")
	assert.False(t, isBusiness(d("2024-07-06")), "saturday")

	_, err = ExchangeDays("XLON")
	assert.Error(t, err)
}
