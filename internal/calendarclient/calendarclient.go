// Package calendarclient adapts the Google Calendar v3 API to the
// calendarview.Client capability set, classifying API failures into the
// transient/permission/not_found/permanent policy the calendar view's
// retry layer keys on.
package calendarclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// Config locates the OAuth credentials and the calendar to operate on.
type Config struct {
	// CredentialsFile is the OAuth2 client secret JSON downloaded from
	// the Google Cloud console.
	CredentialsFile string
	// TokenFile holds the stored user token from a prior auth flow.
	TokenFile string
	// CalendarID is the target calendar; "primary" for the default.
	CalendarID string
}

// Client is the concrete Google Calendar adapter.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

// New builds a Client from stored OAuth credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, apperrors.NewConfig("calendar.credentials", fmt.Sprintf("cannot read %s: %v", cfg.CredentialsFile, err))
	}
	oauthCfg, err := google.ConfigFromJSON(creds, calendar.CalendarEventsScope)
	if err != nil {
		return nil, apperrors.NewConfig("calendar.credentials", fmt.Sprintf("invalid client secret: %v", err))
	}

	token, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, apperrors.NewConfig("calendar.token", fmt.Sprintf("cannot read token %s (run the auth flow first): %v", cfg.TokenFile, err))
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	if err != nil {
		return nil, apperrors.NewTransientExternal("failed to build calendar service", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

// SaveToken writes an OAuth token for later use by New. Exposed for the
// CLI's auth flow.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return apperrors.NewConfig("calendar.token", fmt.Sprintf("cannot write token %s: %v", path, err))
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// List returns events overlapping [start, end), ascending by start.
func (c *Client) List(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	var out []calendarevent.Event
	call := c.svc.Events.List(c.calendarID).
		Context(ctx).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	for {
		resp, err := call.Do()
		if err != nil {
			return nil, classify("list events", err)
		}
		for _, item := range resp.Items {
			e, ok := fromGoogle(item)
			if ok {
				out = append(out, e)
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		call = call.PageToken(resp.NextPageToken)
	}
}

// Upsert creates the event when it has no external id, and replaces the
// existing one (a full update, not a patch) otherwise.
func (c *Client) Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error) {
	g := toGoogle(event)

	if event.ExternalID == "" {
		created, err := c.svc.Events.Insert(c.calendarID, g).Context(ctx).Do()
		if err != nil {
			return calendarevent.Event{}, classify("insert event", err)
		}
		event.ExternalID = created.Id
		return event, nil
	}

	updated, err := c.svc.Events.Update(c.calendarID, event.ExternalID, g).Context(ctx).Do()
	if err != nil {
		return calendarevent.Event{}, classify("update event", err)
	}
	event.ExternalID = updated.Id
	return event, nil
}

// Delete removes an event by external id. A 404/410 is treated as
// already deleted.
func (c *Client) Delete(ctx context.Context, externalID string) error {
	err := c.svc.Events.Delete(c.calendarID, externalID).Context(ctx).Do()
	if err != nil {
		cerr := classify("delete event", err)
		if apperrors.IsNotFound(cerr) {
			return nil
		}
		return cerr
	}
	return nil
}

// classify maps a Google API failure onto the retry policy:
// 401/403 permission, 404/410 not_found, 429/5xx transient, anything
// else permanent.
func classify(op string, err error) error {
	if gerr, ok := err.(*googleapi.Error); ok {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return apperrors.NewPermission(fmt.Sprintf("calendar %s rejected", op), err)
		case gerr.Code == 404 || gerr.Code == 410:
			return apperrors.NewNotFound("calendar event", op)
		case gerr.Code == 429 || gerr.Code >= 500:
			return apperrors.NewTransientExternal(fmt.Sprintf("calendar %s failed", op), err)
		default:
			return apperrors.NewInternal(fmt.Sprintf("calendar %s failed permanently", op), err)
		}
	}
	// Network-level failures (no HTTP status) are retryable.
	return apperrors.NewTransientExternal(fmt.Sprintf("calendar %s failed", op), err)
}

func fromGoogle(item *calendar.Event) (calendarevent.Event, bool) {
	start, ok := eventTime(item.Start)
	if !ok {
		return calendarevent.Event{}, false
	}
	end, ok := eventTime(item.End)
	if !ok {
		return calendarevent.Event{}, false
	}

	e := calendarevent.Event{
		ExternalID:  item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		Origin:      calendarevent.OriginExternal,
	}
	if calendarevent.IsPlannerOwned(e) {
		e.Origin = calendarevent.OriginPlanned
		if d, ok := calendarevent.Discipline(e); ok {
			e.Tags = []string{fmt.Sprintf("workout:%s", d)}
		}
	}
	return e, true
}

// eventTime resolves a Google event boundary; all-day events carry only
// a date, which anchors to midnight UTC.
func eventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	if t.Date != "" {
		parsed, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func toGoogle(e calendarevent.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Start:       &calendar.EventDateTime{DateTime: e.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: e.End.Format(time.RFC3339)},
	}
}
