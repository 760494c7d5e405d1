package creditledger

import "time"

// needsDailyReset reports whether now falls on a different calendar day
// (year, month, day tuple) than lastReset in the given location.
func needsDailyReset(lastReset, now time.Time, loc *time.Location) bool {
	ay, am, ad := lastReset.In(loc).Date()
	by, bm, bd := now.In(loc).Date()
	return ay != by || am != bm || ad != bd
}

// needsMonthlyReset reports whether now falls in a different calendar month
// (year, month tuple) than lastReset in the given location.
func needsMonthlyReset(lastReset, now time.Time, loc *time.Location) bool {
	a := lastReset.In(loc)
	b := now.In(loc)
	return a.Year() != b.Year() || a.Month() != b.Month()
}
