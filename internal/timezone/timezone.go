// Package timezone converts civil (wall-clock) times between IANA zones.
package timezone

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // embedded zoneinfo, results must not depend on the host

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/rs/zerolog"
)

// aliases maps deprecated zone names to their canonical IANA identifiers.
var aliases = map[string]string{
	"Asia/Calcutta":        "Asia/Kolkata",
	"Asia/Saigon":          "Asia/Ho_Chi_Minh",
	"Asia/Katmandu":        "Asia/Kathmandu",
	"Asia/Rangoon":         "Asia/Yangon",
	"Asia/Dacca":           "Asia/Dhaka",
	"Asia/Thimbu":          "Asia/Thimphu",
	"Asia/Ulan_Bator":      "Asia/Ulaanbaatar",
	"Europe/Kiev":          "Europe/Kyiv",
	"America/Buenos_Aires": "America/Argentina/Buenos_Aires",
	"America/Indianapolis": "America/Indiana/Indianapolis",
	"Pacific/Truk":         "Pacific/Chuuk",
	"US/Eastern":           "America/New_York",
	"US/Central":           "America/Chicago",
	"US/Mountain":          "America/Denver",
	"US/Pacific":           "America/Los_Angeles",
	"US/Alaska":            "America/Anchorage",
	"US/Hawaii":            "Pacific/Honolulu",
	"Etc/UTC":              "UTC",
	"Etc/UCT":              "UTC",
	"Etc/GMT":              "UTC",
	"Etc/Universal":        "UTC",
	"Etc/Zulu":             "UTC",
	"GMT":                  "UTC",
	"UCT":                  "UTC",
	"Universal":            "UTC",
	"Zulu":                 "UTC",
}

// NormalizeZone trims the identifier and maps aliases to canonical names.
func NormalizeZone(zone string) string {
	z := strings.TrimSpace(zone)
	if canonical, ok := aliases[z]; ok {
		return canonical
	}
	return z
}

// SameZone compares two identifiers after normalization.
func SameZone(a, b string) bool {
	return NormalizeZone(a) == NormalizeZone(b)
}

// Converter resolves zones and converts wall-clock values between them.
// It is safe for concurrent use; only *time.Location values are cached,
// offsets are always computed for the date in question.
type Converter struct {
	logger    *zerolog.Logger
	locations sync.Map // map[string]*time.Location
	now       func() time.Time
}

func NewConverter(logger *zerolog.Logger) *Converter {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "timezone").Logger()
	}
	return &Converter{logger: &base, now: time.Now}
}

// Location resolves an identifier strictly. Unknown zones wrap ErrInvalidInput.
func (c *Converter) Location(zone string) (*time.Location, error) {
	name := NormalizeZone(zone)
	if name == "" || name == "Local" {
		return nil, domain.InvalidInput("unknown timezone %q", zone)
	}
	if v, ok := c.locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.InvalidInput("unknown timezone %q", zone)
	}
	c.locations.Store(name, loc)
	return loc, nil
}

// LocationOr resolves zone, falling back (with a warning) when it is unknown.
func (c *Converter) LocationOr(zone string, fallback *time.Location) *time.Location {
	loc, err := c.Location(zone)
	if err != nil {
		c.logger.Warn().Err(err).Str("zone", zone).Str("fallback", fallback.String()).
			Msg("Unresolvable timezone, rendering unconverted")
		return fallback
	}
	return loc
}

// ToZone converts a civil date and time from one zone to another and
// returns the target calendar date and wall-clock time, always in the
// canonical zero-padded layouts. Errors wrap ErrInvalidInput. Equal zones
// skip the instant math but still canonicalize ("9:00" becomes "09:00").
func (c *Converter) ToZone(date, clock, fromZone, toZone string) (string, string, error) {
	if SameZone(fromZone, toZone) {
		if _, err := c.Location(fromZone); err != nil {
			return "", "", err
		}
		civil, err := CivilInstant(date, clock, time.UTC)
		if err != nil {
			return "", "", err
		}
		return civil.Format(models.DateLayout), civil.Format(models.ClockLayout), nil
	}

	from, err := c.Location(fromZone)
	if err != nil {
		return "", "", err
	}
	to, err := c.Location(toZone)
	if err != nil {
		return "", "", err
	}

	instant, err := CivilInstant(date, clock, from)
	if err != nil {
		return "", "", err
	}
	local := instant.In(to)
	return local.Format(models.DateLayout), local.Format(models.ClockLayout), nil
}

// ConvertDateTime is the display variant of ToZone: on any failure it logs
// and returns the original values.
func (c *Converter) ConvertDateTime(date, clock, fromZone, toZone string) (string, string) {
	if SameZone(fromZone, toZone) {
		return date, clock
	}
	d, t, err := c.ToZone(date, clock, fromZone, toZone)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("date", date).
			Str("time", clock).
			Str("from", fromZone).
			Str("to", toZone).
			Msg("Timezone conversion failed, keeping original value")
		return date, clock
	}
	return d, t
}

// ConvertWallClock renders clock, read as civil time in fromZone on
// refDate, as wall-clock time in toZone.
func (c *Converter) ConvertWallClock(clock, fromZone, toZone, refDate string) string {
	_, t := c.ConvertDateTime(refDate, clock, fromZone, toZone)
	return t
}

// ZoneOffsetHours returns the current UTC offset of zone in hours. It is a
// coarse hint only and returns 0 for unknown zones.
func (c *Converter) ZoneOffsetHours(zone string) float64 {
	loc, err := c.Location(zone)
	if err != nil {
		c.logger.Warn().Err(err).Str("zone", zone).Msg("Cannot compute zone offset")
		return 0
	}
	_, offset := c.now().In(loc).Zone()
	return float64(offset) / 3600
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD) at UTC midnight.
func ParseDate(date string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, domain.InvalidInput("bad date %q", date)
	}
	return d, nil
}

// ParseClock parses an "HH:MM" wall-clock value.
func ParseClock(clock string) (hour, minute int, err error) {
	t, err := time.Parse(models.ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return 0, 0, domain.InvalidInput("bad time %q", clock)
	}
	return t.Hour(), t.Minute(), nil
}

// CivilInstant resolves a civil date and time in loc to an absolute instant.
func CivilInstant(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// FormatWithZone renders t as "3:04 PM (IST)" in its own location.
func FormatWithZone(t time.Time) string {
	abbr, _ := t.Zone()
	return fmt.Sprintf("%s (%s)", t.Format("3:04 PM"), abbr)
}
