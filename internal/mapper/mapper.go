package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/beekhof/shift-sync/internal/model"
)

// eventIDPrefix keeps derived IDs non-empty, non-numeric-leading and at least
// five characters long (Google Calendar's minimum).
const eventIDPrefix = "shift"

// DefaultTitle is used when neither the shift nor the options provide one.
const DefaultTitle = "Shift"

// Footer is appended to every event description.
const Footer = "Synced from your shift schedule by shift-sync."

// Options controls how shifts are rendered as calendar events.
type Options struct {
	// DefaultTitle is used for shifts without a display name.
	DefaultTitle string
	// Location is the subject's time zone for event times and activity lines.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// palette maps shift themes to calendar colors.
var palette = map[model.Theme]model.ColorEntry{
	model.ThemeWhite:      {GoogleColorID: "8", CSSName: "lightgray"},
	model.ThemeBlue:       {GoogleColorID: "7", CSSName: "deepskyblue"},
	model.ThemeGreen:      {GoogleColorID: "2", CSSName: "mediumseagreen"},
	model.ThemePurple:     {GoogleColorID: "1", CSSName: "mediumpurple"},
	model.ThemePink:       {GoogleColorID: "4", CSSName: "lightcoral"},
	model.ThemeYellow:     {GoogleColorID: "5", CSSName: "gold"},
	model.ThemeGray:       {GoogleColorID: "8", CSSName: "gray"},
	model.ThemeDarkBlue:   {GoogleColorID: "9", CSSName: "royalblue"},
	model.ThemeDarkGreen:  {GoogleColorID: "10", CSSName: "forestgreen"},
	model.ThemeDarkPurple: {GoogleColorID: "3", CSSName: "darkorchid"},
	model.ThemeDarkPink:   {GoogleColorID: "11", CSSName: "crimson"},
	model.ThemeDarkYellow: {GoogleColorID: "6", CSSName: "darkorange"},
}

// NeutralColor is used for unknown or future theme values.
var NeutralColor = model.ColorEntry{GoogleColorID: "8", CSSName: "gray"}

// ColorFor returns the palette entry for a theme.
func ColorFor(theme model.Theme) model.ColorEntry {
	if entry, ok := palette[theme]; ok {
		return entry
	}
	return NeutralColor
}

// base32hex digits, the alphabet Google Calendar accepts for event IDs.
const eventIDDigits = "0123456789abcdefghijklmnopqrstuv"

// escapeMark starts an escape sequence in derived IDs. A literal 'v' is
// written as "vv"; any other byte outside [a-u0-9] as 'v' followed by its
// high three bits and low five bits in base32hex. The high digit is never
// 'v', so the encoding is reversible and distinct shift IDs never share an
// event ID.
const escapeMark = 'v'

// DeriveEventID converts a shift ID into a calendar event ID made only of
// base32hex characters. Characters already in the alphabet are kept as-is.
func DeriveEventID(shiftID string) string {
	var b strings.Builder
	b.Grow(len(eventIDPrefix) + len(shiftID))
	b.WriteString(eventIDPrefix)
	for i := 0; i < len(shiftID); i++ {
		c := shiftID[i]
		switch {
		case c == escapeMark:
			b.WriteByte(escapeMark)
			b.WriteByte(escapeMark)
		case isEventIDChar(rune(c)):
			b.WriteByte(c)
		default:
			b.WriteByte(escapeMark)
			b.WriteByte(eventIDDigits[c>>5])
			b.WriteByte(eventIDDigits[c&0x1f])
		}
	}
	return b.String()
}

// ValidEventID reports whether id only uses characters accepted by the calendar.
func ValidEventID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !isEventIDChar(r) {
			return false
		}
	}
	return true
}

func isEventIDChar(r rune) bool {
	return (r >= 'a' && r <= 'v') || (r >= '0' && r <= '9')
}

// IsActiveForOwner reports whether the shift is live, not staged for
// deletion, and assigned to ownerID.
func IsActiveForOwner(s model.Shift, ownerID string) bool {
	if s.Payload == nil {
		return false
	}
	return s.OwnerID == ownerID && !s.StagedForDeletion
}

// IsInWindow reports whether the shift overlaps [now, horizonEnd].
// Both boundaries are inclusive so shifts in progress are kept.
func IsInWindow(s model.Shift, now, horizonEnd time.Time) bool {
	if s.Payload == nil {
		return false
	}
	return !s.Payload.End.Before(now) && !s.Payload.Start.After(horizonEnd)
}

// HasChangedSince reports whether the shift was modified after lastKnown.
// A nil lastKnown means the shift was never synced.
func HasChangedSince(s model.Shift, lastKnown *time.Time) bool {
	if lastKnown == nil {
		return true
	}
	return s.ModifiedAt.After(*lastKnown)
}

// ToCalendarEvent renders a shift as a calendar event. It returns nil when
// the shift has no live payload.
func ToCalendarEvent(s model.Shift, opts Options) *model.CalendarEvent {
	p := s.Payload
	if p == nil {
		return nil
	}
	loc := opts.location()

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = opts.DefaultTitle
	}
	if title == "" {
		title = DefaultTitle
	}

	return &model.CalendarEvent{
		ID:          DeriveEventID(s.ID),
		Title:       title,
		Description: describe(p, loc),
		Start:       p.Start.In(loc),
		End:         p.End.In(loc),
		TimeZone:    loc.String(),
		Color:       ColorFor(p.Theme),
		Metadata: map[string]string{
			model.MetaShiftID:         s.ID,
			model.MetaShiftModifiedAt: s.ModifiedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func describe(p *model.ShiftPayload, loc *time.Location) string {
	var sections []string

	if notes := strings.TrimSpace(p.Notes); notes != "" {
		sections = append(sections, notes)
	}

	if len(p.Activities) > 0 {
		lines := []string{"Activities:"}
		for _, a := range p.Activities {
			lines = append(lines, formatActivity(a, loc))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	sections = append(sections, Footer)
	return strings.Join(sections, "\n\n")
}

func formatActivity(a model.Activity, loc *time.Location) string {
	label := a.Label()
	if !a.IsPaid {
		label += " (unpaid)"
	}
	return fmt.Sprintf("- %s - %s–%s", label, a.Start.In(loc).Format("15:04"), a.End.In(loc).Format("15:04"))
}
