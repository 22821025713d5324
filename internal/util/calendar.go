package util

import (
	"time"
	_ "time/tzdata" // session hours are defined in exchange-local time

	"simbroker/internal/domain"
)

// session is one market's regular trading hours in its local time zone.
type session struct {
	tz          string
	openHour    int
	openMinute  int
	closeHour   int
	closeMinute int
}

var sessions = map[domain.Market]session{
	domain.MarketUS: {tz: "America/New_York", openHour: 9, openMinute: 30, closeHour: 16},
	domain.MarketCN: {tz: "Asia/Shanghai", openHour: 9, openMinute: 30, closeHour: 15},
}

// TradingCalendar provides market-hours awareness for a specific market.
// Weekends are closed; exchange holidays are not modelled.
type TradingCalendar struct {
	market  domain.Market
	session session
	loc     *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets fall back to US hours.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	s, ok := sessions[market]
	if !ok {
		s = sessions[domain.MarketUS]
	}
	loc, err := time.LoadLocation(s.tz)
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{market: market, session: s, loc: loc}
}

// SessionOpen returns the session open on t's exchange-local date.
func (tc *TradingCalendar) SessionOpen(t time.Time) time.Time {
	y, m, d := t.In(tc.loc).Date()
	return time.Date(y, m, d, tc.session.openHour, tc.session.openMinute, 0, 0, tc.loc)
}

// SessionEnd returns the session close on t's exchange-local date.
func (tc *TradingCalendar) SessionEnd(t time.Time) time.Time {
	y, m, d := t.In(tc.loc).Date()
	return time.Date(y, m, d, tc.session.closeHour, tc.session.closeMinute, 0, 0, tc.loc)
}

// IsTradingDay reports whether t falls on a weekday in exchange-local time.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	wd := t.In(tc.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	return !t.Before(tc.SessionOpen(t)) && t.Before(tc.SessionEnd(t))
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	open := tc.SessionOpen(t)
	for open.Before(t) || !tc.IsTradingDay(open) {
		open = tc.SessionOpen(open.AddDate(0, 0, 1))
	}
	return open
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	end := tc.SessionEnd(t)
	for end.Before(t) || !tc.IsTradingDay(end) {
		end = tc.SessionEnd(end.AddDate(0, 0, 1))
	}
	return end
}
