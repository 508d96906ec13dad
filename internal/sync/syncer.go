package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/beekhof/shift-sync/internal/ledger"
	"github.com/beekhof/shift-sync/internal/mapper"
	"github.com/beekhof/shift-sync/internal/model"
)

// ShiftSource returns the active shifts of an owner. Implementations page
// through the upstream API; the engine applies the sync window itself.
type ShiftSource interface {
	FetchShifts(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]model.Shift, error)
}

// CalendarSink writes events addressed by caller-chosen IDs.
// Upsert returns the ID the calendar actually uses. DeleteEvent treats a
// missing event as success.
type CalendarSink interface {
	Upsert(ctx context.Context, eventID string, event *model.CalendarEvent) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Options configures a Syncer.
type Options struct {
	OwnerID string
	Horizon time.Duration
	DryRun  bool
	Verbose bool
	Mapper  mapper.Options
}

// Report summarizes one run.
type Report struct {
	Created int
	Updated int
	Skipped int
	Deleted int
	Errors  []string
	DryRun  bool
}

// Failed reports whether any item failed.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

func (r *Report) String() string {
	prefix := ""
	if r.DryRun {
		prefix = "(dry run) would have "
	}
	return fmt.Sprintf("%screated %d, updated %d, deleted %d, skipped %d, %d error(s)",
		prefix, r.Created, r.Updated, r.Deleted, r.Skipped, len(r.Errors))
}

func (r *Report) addError(shiftID, op string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s: %v", shiftID, op, err))
}

// Syncer reconciles one calendar with the owner's shifts. It is the only
// writer of its ledger.
type Syncer struct {
	source ShiftSource
	sink   CalendarSink
	ledger *ledger.Ledger
	opts   Options
}

// NewSyncer creates a new Syncer instance. l must already be loaded.
func NewSyncer(source ShiftSource, sink CalendarSink, l *ledger.Ledger, opts Options) *Syncer {
	return &Syncer{
		source: source,
		sink:   sink,
		ledger: l,
		opts:   opts,
	}
}

func (s *Syncer) debugf(format string, args ...any) {
	if s.opts.Verbose {
		log.Printf("DEBUG: "+format, args...)
	}
}

// Sync performs one reconciliation run at time now. Per-shift failures are
// collected in the report; the returned error is reserved for failures that
// stop the run (fetching shifts, saving the ledger).
func (s *Syncer) Sync(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{DryRun: s.opts.DryRun}
	horizonEnd := now.Add(s.opts.Horizon)

	shifts, err := s.source.FetchShifts(ctx, s.opts.OwnerID, now, horizonEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shifts: %w", err)
	}

	current := make(map[string]struct{}, len(shifts))
	for _, shift := range shifts {
		if !mapper.IsActiveForOwner(shift, s.opts.OwnerID) {
			s.debugf("ignoring inactive shift %s", shift.ID)
			continue
		}
		if !mapper.IsInWindow(shift, now, horizonEnd) {
			s.debugf("shift %s is outside the sync window", shift.ID)
			continue
		}
		if _, seen := current[shift.ID]; seen {
			s.debugf("shift %s returned twice, keeping the first", shift.ID)
			continue
		}
		current[shift.ID] = struct{}{}

		s.reconcileShift(ctx, shift, report)
	}
	log.Printf("%d active shift(s), %d within %s of %s", len(shifts), len(current), s.opts.Horizon, now.Format(time.RFC3339))

	for _, shiftID := range s.staleShiftIDs(current) {
		s.removeShift(ctx, shiftID, report)
	}

	if s.opts.DryRun {
		return report, nil
	}

	if err := s.ledger.Save(false); err != nil {
		return report, fmt.Errorf("failed to save ledger: %w", err)
	}
	return report, nil
}

func (s *Syncer) reconcileShift(ctx context.Context, shift model.Shift, report *Report) {
	record, known := s.ledger.Record(shift.ID)

	var lastModified *time.Time
	if known {
		lastModified = &record.LastModified
	}
	if !mapper.HasChangedSince(shift, lastModified) {
		s.debugf("shift %s unchanged since %s", shift.ID, record.LastModified.Format(time.RFC3339))
		report.Skipped++
		return
	}

	event := mapper.ToCalendarEvent(shift, s.opts.Mapper)
	if event == nil {
		s.debugf("shift %s has nothing to map", shift.ID)
		report.Skipped++
		return
	}

	eventID := event.ID
	if known && record.EventID != "" {
		eventID = record.EventID
	}

	if s.opts.DryRun {
		if known {
			log.Printf("Would update event %s for shift %s (%s, %s)", eventID, shift.ID, event.Title, event.Start.Format(time.RFC3339))
			report.Updated++
		} else {
			log.Printf("Would create event %s for shift %s (%s, %s)", eventID, shift.ID, event.Title, event.Start.Format(time.RFC3339))
			report.Created++
		}
		return
	}

	resultID, err := s.sink.Upsert(ctx, eventID, event)
	if err != nil {
		log.Printf("Warning: failed to sync shift %s: %v", shift.ID, err)
		report.addError(shift.ID, "upsert", err)
		return
	}

	s.ledger.SetRecord(shift.ID, ledger.Record{EventID: resultID, LastModified: shift.ModifiedAt})
	if known {
		log.Printf("Updated event %s (shift: %s, summary: %v)", resultID, shift.ID, event.Title)
		report.Updated++
	} else {
		log.Printf("Created event %s (shift: %s, summary: %v)", resultID, shift.ID, event.Title)
		report.Created++
	}
}

func (s *Syncer) removeShift(ctx context.Context, shiftID string, report *Report) {
	record, _ := s.ledger.Record(shiftID)
	eventID := record.EventID
	if eventID == "" {
		eventID = mapper.DeriveEventID(shiftID)
	}

	if s.opts.DryRun {
		log.Printf("Would delete event %s (shift %s no longer scheduled)", eventID, shiftID)
		report.Deleted++
		return
	}

	if err := s.sink.DeleteEvent(ctx, eventID); err != nil {
		log.Printf("Warning: failed to delete event %s for shift %s: %v", eventID, shiftID, err)
		report.addError(shiftID, "delete", err)
		return
	}

	s.ledger.DeleteRecord(shiftID)
	log.Printf("Deleted event %s (shift %s no longer scheduled)", eventID, shiftID)
	report.Deleted++
}

// staleShiftIDs returns ledger entries missing from current, sorted so runs
// are reproducible.
func (s *Syncer) staleShiftIDs(current map[string]struct{}) []string {
	var stale []string
	for shiftID := range s.ledger.KnownShiftIDs() {
		if _, ok := current[shiftID]; !ok {
			stale = append(stale, shiftID)
		}
	}
	sort.Strings(stale)
	return stale
}
