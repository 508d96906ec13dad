package shifts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beekhof/shift-sync/internal/mapper"
	"github.com/beekhof/shift-sync/internal/model"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// GraphClient reads shifts from a Microsoft Teams schedule.
type GraphClient struct {
	httpClient        *http.Client
	baseURL           string
	teamID            string
	schedulingGroupID string
}

// NewGraphClient creates a client for the schedule of teamID. httpClient must
// attach Graph credentials (see auth.GetAuthenticatedClient).
func NewGraphClient(httpClient *http.Client, baseURL, teamID string) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GraphClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		teamID:     teamID,
	}
}

// WithSchedulingGroup restricts results to one scheduling group.
func (c *GraphClient) WithSchedulingGroup(id string) *GraphClient {
	c.schedulingGroupID = id
	return c
}

type graphShiftPage struct {
	Value    []graphShift `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphShift struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"userId"`
	SchedulingGroupID    string          `json:"schedulingGroupId"`
	LastModifiedDateTime time.Time       `json:"lastModifiedDateTime"`
	IsStagedForDeletion  bool            `json:"isStagedForDeletion"`
	SharedShift          *graphShiftItem `json:"sharedShift"`
}

type graphShiftItem struct {
	DisplayName   string               `json:"displayName"`
	Notes         string               `json:"notes"`
	StartDateTime time.Time            `json:"startDateTime"`
	EndDateTime   time.Time            `json:"endDateTime"`
	Theme         string               `json:"theme"`
	Activities    []graphShiftActivity `json:"activities"`
}

type graphShiftActivity struct {
	Code          string    `json:"code"`
	DisplayName   string    `json:"displayName"`
	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`
	IsPaid        bool      `json:"isPaid"`
}

type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchShifts returns every active shift of ownerID. The schedule endpoint
// cannot filter by owner or time range, so all pages are read and filtered
// here; the window is left to the caller.
func (c *GraphClient) FetchShifts(ctx context.Context, ownerID string, windowStart, windowEnd time.Time) ([]model.Shift, error) {
	log.Printf("Fetching shifts of %s from team %s (sync window %s to %s)",
		ownerID, c.teamID, windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))

	next := fmt.Sprintf("%s/teams/%s/schedule/shifts", c.baseURL, url.PathEscape(c.teamID))
	seen := make(map[string]bool)

	var result []model.Shift
	total := 0
	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("shift pagination loops back to %s", next)
		}
		seen[next] = true

		page, found, err := c.getPage(ctx, next, len(seen) == 1)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}

		for _, gs := range page.Value {
			total++
			s := gs.toShift()
			if c.schedulingGroupID != "" && s.SchedulingGroupID != c.schedulingGroupID {
				continue
			}
			if mapper.IsActiveForOwner(s, ownerID) {
				result = append(result, s)
			}
		}
		next = page.NextLink
	}

	log.Printf("Fetched %d shifts in %d page(s), %d active for %s", total, len(seen), len(result), ownerID)
	return result, nil
}

// getPage fetches one page. found is false when the first page reports the
// schedule missing or shifts unavailable for the team. The same statuses on a
// later page are errors, since the pages already read would be incomplete.
func (c *GraphClient) getPage(ctx context.Context, pageURL string, first bool) (*graphShiftPage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build shifts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list shifts: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read shifts response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		if !first {
			return nil, false, fmt.Errorf("failed to list shifts page: HTTP %d%s", resp.StatusCode, describeGraphError(body))
		}
		// A missing schedule and a disabled shifts feature look the same
		// as a team without shifts.
		log.Printf("Warning: shift schedule unavailable (HTTP %d%s), treating as empty", resp.StatusCode, describeGraphError(body))
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("failed to list shifts: HTTP %d%s", resp.StatusCode, describeGraphError(body))
	}

	var page graphShiftPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, false, fmt.Errorf("failed to parse shifts response: %w", err)
	}
	return &page, true, nil
}

func describeGraphError(body []byte) string {
	var e graphErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Code == "" {
		return ""
	}
	return fmt.Sprintf(": %s: %s", e.Error.Code, e.Error.Message)
}

func (gs graphShift) toShift() model.Shift {
	s := model.Shift{
		ID:                gs.ID,
		OwnerID:           gs.UserID,
		SchedulingGroupID: gs.SchedulingGroupID,
		ModifiedAt:        gs.LastModifiedDateTime,
		StagedForDeletion: gs.IsStagedForDeletion,
	}
	if gs.SharedShift == nil {
		return s
	}

	item := gs.SharedShift
	payload := &model.ShiftPayload{
		Title: item.DisplayName,
		Notes: item.Notes,
		Start: item.StartDateTime,
		End:   item.EndDateTime,
		Theme: model.Theme(item.Theme),
	}
	for _, a := range item.Activities {
		payload.Activities = append(payload.Activities, model.Activity{
			Code:        a.Code,
			DisplayName: a.DisplayName,
			Start:       a.StartDateTime,
			End:         a.EndDateTime,
			IsPaid:      a.IsPaid,
		})
	}
	s.Payload = payload
	return s
}
