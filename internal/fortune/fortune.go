// Package fortune derives the cosmetic fortune profile of a wallet: the
// five-element distribution of its address, the cyber-bazi label of its
// first transaction date and a human readable wallet age.
//
// Everything in this package is a pure function of its inputs.
package fortune

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/crypto-temple/internal/types"
)

const day = 24 * time.Hour

var (
	heavenlyStems   = []rune("甲乙丙丁戊己庚辛壬癸")
	earthlyBranches = []rune("子丑寅卯辰巳午未申酉戌亥")
)

// dateLayouts are tried in order when parsing a first-transaction date
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04",
}

// Element buckets, indexed by character code modulo 5
const (
	BucketGold = iota
	BucketWood
	BucketWater
	BucketFire
	BucketEarth
)

// Counts returns the raw bucket counts of the address characters after the
// 0x prefix is removed and the address is lower-cased. The counts always sum
// to the number of characters considered.
func Counts(address string) [5]int {
	var counts [5]int
	for _, r := range normalize(address) {
		counts[int(r)%5]++
	}
	return counts
}

// Elements maps every character of the address to one of five buckets and
// returns each bucket's share as a rounded percentage. An empty address gives
// all zeroes. Buckets are rounded independently, so the sum may be 99..101.
func Elements(address string) types.FiveElements {
	counts := Counts(address)
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return types.FiveElements{}
	}

	pct := func(n int) int {
		return int(math.Round(float64(n) / float64(total) * 100))
	}
	return types.FiveElements{
		Gold:  pct(counts[BucketGold]),
		Wood:  pct(counts[BucketWood]),
		Water: pct(counts[BucketWater]),
		Fire:  pct(counts[BucketFire]),
		Earth: pct(counts[BucketEarth]),
	}
}

// CyberBazi returns the sexagenary-cycle label of the given first
// transaction date, e.g. "甲辰年 · 农历3月 · 链上降世". Unknown, unparsable
// or pre-1970 dates give types.ChaosEra.
func CyberBazi(date string) string {
	t, ok := parseDate(date)
	if !ok {
		return types.ChaosEra
	}

	idx := ((t.Year()-4)%60 + 60) % 60
	stem := heavenlyStems[idx%10]
	branch := earthlyBranches[idx%12]
	return fmt.Sprintf("%c%c年 · 农历%d月 · 链上降世", stem, branch, int(t.Month()))
}

// WalletAge returns the elapsed time between date and now as "X年Y天", or
// "Y天" when less than a year has passed. Partial days round up. Unknown or
// unparsable dates give types.UnknownValue.
func WalletAge(date string, now time.Time) string {
	start, ok := parseDate(date)
	if !ok {
		return types.UnknownValue
	}

	diff := now.Sub(start)
	if diff < 0 {
		diff = -diff
	}
	diffDays := int64(math.Ceil(float64(diff) / float64(day)))
	years := diffDays / 365
	days := diffDays % 365
	if years > 0 {
		return fmt.Sprintf("%d年%d天", years, days)
	}
	return fmt.Sprintf("%d天", days)
}

// FormatDate renders t as the YYYY-MM-DD form used for first-transaction
// dates. Dates are always expressed in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IsKnownDate reports whether date is a usable first-transaction date
func IsKnownDate(date string) bool {
	_, ok := parseDate(date)
	return ok
}

func parseDate(date string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" || date == types.UnknownValue || strings.Contains(date, "1970") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, date)
		if err != nil {
			continue
		}
		t = t.UTC()
		// nothing was on chain before the epoch
		if t.Year() < 1970 {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

func normalize(address string) string {
	address = strings.TrimPrefix(address, "0x")
	address = strings.TrimPrefix(address, "0X")
	return strings.ToLower(address)
}
