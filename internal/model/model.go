package model

import "time"

// Theme is the color tag a scheduler assigns to a shift.
type Theme string

const (
	ThemeWhite      Theme = "white"
	ThemeBlue       Theme = "blue"
	ThemeGreen      Theme = "green"
	ThemePurple     Theme = "purple"
	ThemePink       Theme = "pink"
	ThemeYellow     Theme = "yellow"
	ThemeGray       Theme = "gray"
	ThemeDarkBlue   Theme = "darkBlue"
	ThemeDarkGreen  Theme = "darkGreen"
	ThemeDarkPurple Theme = "darkPurple"
	ThemeDarkPink   Theme = "darkPink"
	ThemeDarkYellow Theme = "darkYellow"
)

// Shift is a scheduled work interval as read from the shift source.
// Payload is nil when the shift has no live (shared) version.
type Shift struct {
	ID                string
	OwnerID           string
	SchedulingGroupID string
	ModifiedAt        time.Time
	StagedForDeletion bool
	Payload           *ShiftPayload
}

// ShiftPayload is the live version of a shift.
type ShiftPayload struct {
	Title      string
	Notes      string
	Start      time.Time
	End        time.Time
	Theme      Theme
	Activities []Activity
}

// Activity is a sub-interval of a shift (break, training, ...).
type Activity struct {
	Code        string
	DisplayName string
	Start       time.Time
	End         time.Time
	IsPaid      bool
}

// Label returns the display name of the activity, or its code when unnamed.
func (a Activity) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Code
}

// CalendarEvent is the provider-independent representation of a synced event.
type CalendarEvent struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Color       ColorEntry

	// Metadata is stored alongside the event by the calendar client
	// (private extended properties, X- properties).
	Metadata map[string]string
}

// ColorEntry is one row of the theme palette.
type ColorEntry struct {
	// GoogleColorID is a Google Calendar event colorId ("1".."11").
	GoogleColorID string
	// CSSName is an RFC 7986 COLOR value used by CalDAV servers.
	CSSName string
}

// Metadata keys stored on calendar events.
const (
	MetaShiftID         = "shiftId"
	MetaShiftModifiedAt = "shiftModifiedAt"
)
