package mapper

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/beekhof/shift-sync/internal/model"
)

func liveShift(id, owner string, start, end time.Time) model.Shift {
	return model.Shift{
		ID:         id,
		OwnerID:    owner,
		ModifiedAt: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		Payload: &model.ShiftPayload{
			Title: "Morning",
			Start: start,
			End:   end,
			Theme: model.ThemeBlue,
		},
	}
}

func TestDeriveEventID(t *testing.T) {
	tests := []struct {
		shiftID string
		want    string
	}{
		{"SHFT_577b75d2-a927-48c0-a5d1-dc984894e7b8", "shiftv2jv28v26v2kv2v577b75d2v1da927v1d48c0v1da5d1v1ddc984894e7b8"},
		{"abc", "shiftabc"},
		{"", "shift"},
		{"123", "shift123"},
		{"v", "shiftvv"},
		{"wxyz!!", "shiftv3nv3ov3pv3qv11v11"},
		{"é", "shiftv63v59"},
	}

	for _, tt := range tests {
		got := DeriveEventID(tt.shiftID)
		if got != tt.want {
			t.Errorf("DeriveEventID(%q) = %q, want %q", tt.shiftID, got, tt.want)
		}
		if !ValidEventID(got) {
			t.Errorf("DeriveEventID(%q) = %q contains invalid characters", tt.shiftID, got)
		}
		if again := DeriveEventID(tt.shiftID); again != got {
			t.Errorf("DeriveEventID(%q) is not stable: %q != %q", tt.shiftID, got, again)
		}
	}
}

func TestDeriveEventID_Distinct(t *testing.T) {
	// Pairs that collapse to one ID if out-of-alphabet characters are dropped
	// or case is folded.
	ids := []string{
		"wxyz!!", "wxy!!", "wxyz", "",
		"SHFT_a", "shft_a", "SHFT-a", "shfta",
		"v", "vv", "v1", "_", "a-b", "a_b", "ab",
	}

	seen := make(map[string]string)
	for _, id := range ids {
		got := DeriveEventID(id)
		if prev, ok := seen[got]; ok {
			t.Errorf("DeriveEventID(%q) and DeriveEventID(%q) both yield %q", prev, id, got)
		}
		seen[got] = id
	}
}

func TestIsActiveForOwner(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	base := liveShift("s1", "user-1", start, start.Add(8*time.Hour))

	staged := base
	staged.StagedForDeletion = true

	otherOwner := base
	otherOwner.OwnerID = "user-2"

	noPayload := base
	noPayload.Payload = nil

	tests := []struct {
		name  string
		shift model.Shift
		want  bool
	}{
		{"active", base, true},
		{"staged for deletion", staged, false},
		{"other owner", otherOwner, false},
		{"no payload", noPayload, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActiveForOwner(tt.shift, "user-1"); got != tt.want {
				t.Errorf("IsActiveForOwner() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInWindow(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	horizonEnd := now.Add(7 * 24 * time.Hour)

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"fully inside", now.Add(time.Hour), now.Add(9 * time.Hour), true},
		{"in progress", now.Add(-2 * time.Hour), now.Add(2 * time.Hour), true},
		{"ends exactly at now", now.Add(-8 * time.Hour), now, true},
		{"starts exactly at horizon end", horizonEnd, horizonEnd.Add(8 * time.Hour), true},
		{"ended before now", now.Add(-9 * time.Hour), now.Add(-time.Second), false},
		{"starts after horizon", horizonEnd.Add(time.Second), horizonEnd.Add(8 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := liveShift("s1", "u", tt.start, tt.end)
			if got := IsInWindow(s, now, horizonEnd); got != tt.want {
				t.Errorf("IsInWindow() = %v, want %v", got, tt.want)
			}
		})
	}

	if IsInWindow(model.Shift{ID: "none"}, now, horizonEnd) {
		t.Error("IsInWindow() should be false for a shift without payload")
	}
}

func TestHasChangedSince(t *testing.T) {
	s := liveShift("s1", "u", time.Now(), time.Now().Add(time.Hour))
	earlier := s.ModifiedAt.Add(-time.Minute)
	same := s.ModifiedAt
	later := s.ModifiedAt.Add(time.Minute)
	// Same instant in another zone must compare equal.
	sameOtherZone := s.ModifiedAt.In(time.FixedZone("CET", 3600))

	if !HasChangedSince(s, nil) {
		t.Error("expected change when no prior timestamp is known")
	}
	if !HasChangedSince(s, &earlier) {
		t.Error("expected change when shift is newer")
	}
	if HasChangedSince(s, &same) {
		t.Error("expected no change for equal timestamp")
	}
	if HasChangedSince(s, &sameOtherZone) {
		t.Error("expected no change for equal instant in another zone")
	}
	if HasChangedSince(s, &later) {
		t.Error("expected no change when ledger is newer")
	}
}

func TestToCalendarEvent(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	start := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	s := liveShift("SHFT_abc-123", "u", start, start.Add(8*time.Hour))
	s.Payload.Notes = "Bring badge"
	s.Payload.Activities = []model.Activity{
		{DisplayName: "Lunch", Start: start.Add(3 * time.Hour), End: start.Add(3*time.Hour + 30*time.Minute), IsPaid: false},
		{Code: "TRN", Start: start.Add(5 * time.Hour), End: start.Add(6 * time.Hour), IsPaid: true},
	}

	event := ToCalendarEvent(s, Options{DefaultTitle: "Work", Location: loc})
	if event == nil {
		t.Fatal("ToCalendarEvent() returned nil")
	}

	want := &model.CalendarEvent{
		ID:    "shiftv2jv28v26v2kv2vabcv1d123",
		Title: "Morning",
		Description: "Bring badge\n\n" +
			"Activities:\n" +
			"- Lunch (unpaid) - 12:00–12:30\n" +
			"- TRN - 14:00–15:00\n\n" +
			Footer,
		Start:    start.In(loc),
		End:      start.Add(8 * time.Hour).In(loc),
		TimeZone: "EST",
		Color:    model.ColorEntry{GoogleColorID: "7", CSSName: "deepskyblue"},
		Metadata: map[string]string{
			model.MetaShiftID:         "SHFT_abc-123",
			model.MetaShiftModifiedAt: "2024-01-10T08:00:00Z",
		},
	}

	if diff := cmp.Diff(want, event); diff != "" {
		t.Errorf("ToCalendarEvent() mismatch (-want +got):\n%s", diff)
	}
}

func TestToCalendarEvent_Fallbacks(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	s := liveShift("s1", "u", start, start.Add(time.Hour))
	s.Payload.Title = "  "
	s.Payload.Theme = model.Theme("unknownFutureValue")

	event := ToCalendarEvent(s, Options{DefaultTitle: "Work shift", Location: time.UTC})
	if event.Title != "Work shift" {
		t.Errorf("Expected default title 'Work shift', got %q", event.Title)
	}
	if event.Color != NeutralColor {
		t.Errorf("Expected neutral color for unknown theme, got %+v", event.Color)
	}
	if event.Description != Footer {
		t.Errorf("Expected description to be only the footer, got %q", event.Description)
	}

	if got := ToCalendarEvent(s, Options{}); got.Title != DefaultTitle {
		t.Errorf("Expected package default title %q, got %q", DefaultTitle, got.Title)
	}

	s.Payload = nil
	if got := ToCalendarEvent(s, Options{}); got != nil {
		t.Errorf("Expected nil event for shift without payload, got %+v", got)
	}
}
