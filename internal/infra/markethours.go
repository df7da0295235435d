package infra

import (
	"log/slog"
	"time"
)

// MarketHours is a weekday trading session in a fixed timezone.
// Used for the initial live/off-market guess before the feed reports market_status.
type MarketHours struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration
}

// NewMarketHours returns the NSE cash session (09:15-15:30, Mon-Fri) in the named zone.
// An unknown zone falls back to IST as a fixed +05:30 offset.
func NewMarketHours(zone string) *MarketHours {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		slog.Warn("Unknown market timezone, using fixed IST offset", slog.String("zone", zone), slog.Any("error", err))
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return &MarketHours{
		loc:   loc,
		open:  9*time.Hour + 15*time.Minute,
		close: 15*time.Hour + 30*time.Minute,
	}
}

// IsOpen reports whether t falls inside the session (bounds inclusive).
func (m *MarketHours) IsOpen(t time.Time) bool {
	local := t.In(m.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.loc)
	offset := local.Sub(midnight)
	return offset >= m.open && offset <= m.close
}
