package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/beekhof/shift-sync/internal/model"
)

// ErrEventNotFound is returned by CalendarClient implementations when the
// addressed event does not exist.
var ErrEventNotFound = errors.New("calendar event not found")

// CalendarClient is a generic interface for calendar operations.
// Both Google Calendar and Apple Calendar clients implement this interface.
// Event-addressed methods must return an error wrapping ErrEventNotFound when
// the event does not exist.
type CalendarClient interface {
	FindOrCreateCalendarByName(ctx context.Context, name string, colorID string) (string, error)
	InsertEvent(ctx context.Context, calendarID string, event *model.CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event *model.CalendarEvent) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Sink writes events into one calendar, addressed by caller-chosen IDs.
type Sink struct {
	client     CalendarClient
	calendarID string
}

// NewSink returns a Sink for calendarID.
func NewSink(client CalendarClient, calendarID string) *Sink {
	return &Sink{client: client, calendarID: calendarID}
}

// Upsert updates the event with eventID, creating it under the same ID when
// the calendar reports it missing. It returns the ID the calendar uses.
func (s *Sink) Upsert(ctx context.Context, eventID string, event *model.CalendarEvent) (string, error) {
	id, err := s.client.UpdateEvent(ctx, s.calendarID, eventID, event)
	if err == nil {
		return orDefault(id, eventID), nil
	}
	if !errors.Is(err, ErrEventNotFound) {
		return "", err
	}

	log.Printf("Event %s not found in calendar, creating it", eventID)
	created := *event
	created.ID = eventID
	id, err = s.client.InsertEvent(ctx, s.calendarID, &created)
	if err != nil {
		return "", fmt.Errorf("failed to create missing event %s: %w", eventID, err)
	}
	return orDefault(id, eventID), nil
}

// DeleteEvent removes the event. An event that is already gone counts as
// deleted.
func (s *Sink) DeleteEvent(ctx context.Context, eventID string) error {
	err := s.client.DeleteEvent(ctx, s.calendarID, eventID)
	if err != nil && !errors.Is(err, ErrEventNotFound) {
		return err
	}
	return nil
}

func orDefault(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}
