package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/beekhof/shift-sync/internal/model"
)

const (
	propColor      = "COLOR"
	metaPropPrefix = "X-SHIFTSYNC-"
)

// AppleCalendarClient is a client for Apple Calendar/iCloud using CalDAV.
type AppleCalendarClient struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  string
	basePath   string
}

// NewAppleCalendarClient creates a new Apple Calendar client using CalDAV.
// serverURL should be the CalDAV server URL (e.g., "https://caldav.icloud.com" for iCloud)
// username and password are the iCloud credentials (password should be an app-specific password)
func NewAppleCalendarClient(serverURL, username, password string) *AppleCalendarClient {
	return &AppleCalendarClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		username:  username,
		password:  password,
		serverURL: serverURL,
		basePath:  fmt.Sprintf("/%s/calendars/", username),
	}
}

// makeRequest makes an authenticated HTTP request to the CalDAV server.
func (c *AppleCalendarClient) makeRequest(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	url := strings.TrimSuffix(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	return c.httpClient.Do(req)
}

// FindOrCreateCalendarByName returns the collection path for the named
// calendar, creating it with MKCALENDAR when it does not exist.
func (c *AppleCalendarClient) FindOrCreateCalendarByName(ctx context.Context, name string, colorID string) (string, error) {
	calendarPath := c.basePath + calendarSlug(name) + "/"

	propfindBody := `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:displayname/>
  </d:prop>
</d:propfind>`

	resp, err := c.makeRequest(ctx, "PROPFIND", calendarPath, strings.NewReader(propfindBody), http.Header{
		"Content-Type": {"application/xml; charset=utf-8"},
		"Depth":        {"0"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up calendar: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMultiStatus:
		return calendarPath, nil
	case http.StatusNotFound:
	default:
		return "", fmt.Errorf("failed to look up calendar: HTTP %d", resp.StatusCode)
	}

	mkcalendarBody := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<c:mkcalendar xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:a="http://apple.com/ns/ical/">
  <d:set>
    <d:prop>
      <d:displayname>%s</d:displayname>
      <a:calendar-color>%s</a:calendar-color>
    </d:prop>
  </d:set>
</c:mkcalendar>`, xmlEscape(name), xmlEscape(colorID))

	resp, err = c.makeRequest(ctx, "MKCALENDAR", calendarPath, strings.NewReader(mkcalendarBody), http.Header{
		"Content-Type": {"application/xml; charset=utf-8"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create calendar '%s': HTTP %d", name, resp.StatusCode)
	}
	return calendarPath, nil
}

// InsertEvent stores a new event resource. It fails if one already exists.
func (c *AppleCalendarClient) InsertEvent(ctx context.Context, calendarID string, event *model.CalendarEvent) (string, error) {
	status, err := c.putEvent(ctx, calendarID, event.ID, event, http.Header{"If-None-Match": {"*"}})
	if err != nil {
		return "", fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}
	if status != http.StatusCreated && status != http.StatusNoContent && status != http.StatusOK {
		return "", fmt.Errorf("failed to insert event %s: HTTP %d", event.ID, status)
	}
	return event.ID, nil
}

// UpdateEvent overwrites an existing event resource.
func (c *AppleCalendarClient) UpdateEvent(ctx context.Context, calendarID, eventID string, event *model.CalendarEvent) (string, error) {
	status, err := c.putEvent(ctx, calendarID, eventID, event, http.Header{"If-Match": {"*"}})
	if err != nil {
		return "", fmt.Errorf("failed to update event %s: %w", eventID, err)
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusCreated:
		return eventID, nil
	case http.StatusPreconditionFailed, http.StatusNotFound:
		return "", fmt.Errorf("failed to update event %s: %w", eventID, ErrEventNotFound)
	default:
		return "", fmt.Errorf("failed to update event %s: HTTP %d", eventID, status)
	}
}

// DeleteEvent deletes an event from a calendar.
func (c *AppleCalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	resp, err := c.makeRequest(ctx, http.MethodDelete, eventPath(calendarID, eventID), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("failed to delete event %s: %w", eventID, ErrEventNotFound)
	default:
		return fmt.Errorf("failed to delete event %s: HTTP %d", eventID, resp.StatusCode)
	}
}

func (c *AppleCalendarClient) putEvent(ctx context.Context, calendarID, eventID string, event *model.CalendarEvent, header http.Header) (int, error) {
	resource := *event
	resource.ID = eventID

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(eventToICal(&resource, time.Now())); err != nil {
		return 0, fmt.Errorf("failed to encode iCalendar: %w", err)
	}

	header.Set("Content-Type", "text/calendar; charset=utf-8")
	resp, err := c.makeRequest(ctx, http.MethodPut, eventPath(calendarID, eventID), &buf, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func eventPath(calendarID, eventID string) string {
	return calendarID + eventID + ".ics"
}

// eventToICal converts an event to a VCALENDAR holding one VEVENT.
// Times are written in UTC so no VTIMEZONE is needed.
func eventToICal(event *model.CalendarEvent, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//Shift Sync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	vevent.Props.SetText(ical.PropUID, event.ID)
	vevent.Props.SetText(ical.PropSummary, event.Title)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	if event.Color.CSSName != "" {
		vevent.Props.SetText(propColor, event.Color.CSSName)
	}

	for key, value := range event.Metadata {
		vevent.Props.SetText(metaPropName(key), value)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	vevent.Props.SetDateTime(ical.PropLastModified, stamp.UTC())

	return cal
}

// metaPropName turns "shiftModifiedAt" into "X-SHIFTSYNC-SHIFT-MODIFIED-AT".
func metaPropName(key string) string {
	var b strings.Builder
	b.WriteString(metaPropPrefix)
	for i, r := range key {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func calendarSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
