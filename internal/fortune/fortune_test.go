package fortune

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crypto-temple/internal/types"
)

const receiver = "0xe5b8988c90ca60d5f2a913cb3bd35a781ae7f242"

func TestElements(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    types.FiveElements
	}{
		{
			name:    "empty address",
			address: "",
			want:    types.FiveElements{},
		},
		{
			name:    "prefix only",
			address: "0x",
			want:    types.FiveElements{},
		},
		{
			name:    "one character per bucket",
			address: "abcde",
			want:    types.FiveElements{Gold: 20, Wood: 20, Water: 20, Fire: 20, Earth: 20},
		},
		{
			name:    "single bucket",
			address: "0x" + strings.Repeat("a", 40),
			want:    types.FiveElements{Water: 100},
		},
		{
			name:    "real address rounds each bucket independently",
			address: receiver,
			want:    types.FiveElements{Gold: 18, Wood: 23, Water: 25, Fire: 20, Earth: 15},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Elements(tt.address))
		})
	}
}

func TestElements_CaseInsensitive(t *testing.T) {
	upper := "0x" + strings.ToUpper(receiver[2:])
	assert.Equal(t, Elements(receiver), Elements(upper))
}

func TestCounts(t *testing.T) {
	assert.Equal(t, [5]int{7, 9, 10, 8, 6}, Counts(receiver))
}

func TestCyberBazi(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2024-03-15", "甲辰年 · 农历3月 · 链上降世"},
		{"2015-07-30", "乙未年 · 农历7月 · 链上降世"},
		{"1984-01-01", "甲子年 · 农历1月 · 链上降世"},
		{"2017-12-31T10:00:00Z", "丁酉年 · 农历12月 · 链上降世"},
		{"", types.ChaosEra},
		{types.UnknownValue, types.ChaosEra},
		{"1970-01-01", types.ChaosEra},
		{"1969-12-31", types.ChaosEra},
		{"1965-05-05", types.ChaosEra},
		{"0003-06-01", types.ChaosEra},
		{"not a date", types.ChaosEra},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, CyberBazi(tt.date))
		})
	}
}

func TestWalletAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		date string
		want string
	}{
		{"partial day rounds up", "2023-01-01", "1年1天"},
		{"under a year", "2023-12-22", "11天"},
		{"same instant", "2024-01-01T12:00", "0天"},
		{"future date uses absolute difference", "2024-01-03", "2天"},
		{"several years", "2015-07-30", "8年158天"},
		{"empty", "", types.UnknownValue},
		{"unknown", types.UnknownValue, types.UnknownValue},
		{"epoch", "1970-01-01", types.UnknownValue},
		{"last day before epoch", "1969-12-31", types.UnknownValue},
		{"before epoch", "1965-05-05", types.UnknownValue},
		{"before epoch with time", "1965-05-05T08:30:00Z", types.UnknownValue},
		{"garbage", "yesterday", types.UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WalletAge(tt.date, now))
		})
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2016, 4, 2, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	assert.Equal(t, "2016-04-03", FormatDate(ts))
}

func TestIsKnownDate(t *testing.T) {
	assert.True(t, IsKnownDate("2020-02-29"))
	assert.False(t, IsKnownDate(types.UnknownValue))
	assert.False(t, IsKnownDate("1970-01-01"))
	assert.False(t, IsKnownDate("1969-12-31"))
	assert.True(t, IsKnownDate("1971-01-01"))
}
