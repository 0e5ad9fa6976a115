package gtfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20250619")
	require.NoError(t, err)
	assert.Equal(t, Date{2025, time.June, 19}, d)
	assert.Equal(t, "20250619", d.String())
	assert.Equal(t, "2025-06-19", d.ISO())

	for _, bad := range []string{"", "2025061", "2025-06-19", "20250230", "20251301", "abcdefgh"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseDate(bad)
			assert.Error(t, err)
		})
	}
}

func TestDate_Arithmetic(t *testing.T) {
	d := NewDate(2025, time.June, 29)
	assert.Equal(t, NewDate(2025, time.July, 2), d.AddDays(3))
	assert.Equal(t, NewDate(2024, time.December, 31), NewDate(2025, time.January, 1).AddDays(-1))
	assert.Equal(t, time.Sunday, d.Weekday())

	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.Equal(t, 0, d.Compare(NewDate(2025, time.June, 29)))
	assert.True(t, d.Between(d, d))
	assert.False(t, d.Between(d.AddDays(1), d.AddDays(2)))
}

func TestDateOf_UsesLocation(t *testing.T) {
	utc := time.Date(2025, time.June, 18, 23, 30, 0, 0, time.UTC)
	auckland := time.FixedZone("NZST", 12*3600)
	assert.Equal(t, NewDate(2025, time.June, 18), DateOf(utc))
	assert.Equal(t, NewDate(2025, time.June, 19), DateOf(utc.In(auckland)))
}

func TestDate_ServiceStart(t *testing.T) {
	d := NewDate(2025, time.June, 19)
	assert.Equal(t, time.Date(2025, time.June, 19, 0, 0, 0, 0, time.UTC), d.ServiceStart(time.UTC))
}
