package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/beekhof/shift-sync/internal/model"
)

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	service *calendar.Service
}

// NewClient creates a new Google Calendar API client using the provided HTTP client.
// Extra options (e.g. option.WithEndpoint) are passed to the service.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service}, nil
}

// FindOrCreateCalendarByName finds an existing calendar by name or creates a new one.
// Returns the calendar ID.
func (c *Client) FindOrCreateCalendarByName(ctx context.Context, name string, colorID string) (string, error) {
	pageToken := ""
	for {
		call := c.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		calendarList, err := call.Do()
		if err != nil {
			return "", fmt.Errorf("Google: failed to list calendars: %w", err)
		}

		for _, cal := range calendarList.Items {
			if cal.Summary == name {
				return cal.Id, nil
			}
		}

		// Only create once every page has been checked.
		if calendarList.NextPageToken == "" {
			break
		}
		pageToken = calendarList.NextPageToken
	}

	newCalendar := &calendar.Calendar{
		Summary:     name,
		Description: "Shifts synced from your work schedule",
	}

	created, err := c.service.Calendars.Insert(newCalendar).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}

	if colorID != "" {
		_, err = c.service.CalendarList.Patch(created.Id, &calendar.CalendarListEntry{
			ColorId: colorID,
		}).Context(ctx).Do()
		if err != nil {
			// Log but don't fail if color setting fails
			log.Printf("Warning: failed to set calendar color: %v", err)
		}
	}

	return created.Id, nil
}

// InsertEvent inserts a new event with the event's own ID.
// Important: Sets sendUpdates="none" to prevent notifications.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *model.CalendarEvent) (string, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(event)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}

	return created.Id, nil
}

// UpdateEvent replaces an existing event.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, event *model.CalendarEvent) (string, error) {
	updated, err := c.service.Events.Update(calendarID, eventID, toGoogleEvent(event)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("failed to update event %s: %w", eventID, ErrEventNotFound)
		}
		return "", fmt.Errorf("failed to update event %s: %w", eventID, err)
	}

	return updated.Id, nil
}

// DeleteEvent deletes an event from a calendar.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("failed to delete event %s: %w", eventID, ErrEventNotFound)
		}
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}

	return nil
}

// isNotFound reports whether the API said the event does not exist.
// Deleted events answer 410 Gone.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
}

func toGoogleEvent(event *model.CalendarEvent) *calendar.Event {
	return &calendar.Event{
		Id:          event.ID,
		Summary:     event.Title,
		Description: event.Description,
		Start:       toEventDateTime(event.Start, event.TimeZone),
		End:         toEventDateTime(event.End, event.TimeZone),
		ColorId:     event.Color.GoogleColorID,
		// Updating a cancelled event brings it back.
		Status: "confirmed",
		Reminders: &calendar.EventReminders{
			UseDefault: true,
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: event.Metadata,
		},
	}
}

func toEventDateTime(t time.Time, timeZone string) *calendar.EventDateTime {
	dt := &calendar.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if timeZone != "" && timeZone != "Local" {
		dt.TimeZone = timeZone
	}
	return dt
}
