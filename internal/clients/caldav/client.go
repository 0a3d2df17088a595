package caldav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"daysync/internal/domain"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// Apple iCloud CalDAV endpoint, used when a connection has no server URL
	DefaultiCloudURL = "https://caldav.icloud.com"

	requestTimeout = 30 * time.Second
)

// Client is a read-only CalDAV calendar source. It holds no credentials of
// its own; every call receives a decrypted credential and builds a fresh
// authenticated connection from it.
type Client struct {
	logger log.Logger
}

func NewClient(logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{logger: logger}
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

func (c *Client) connect(cred domain.Credential) (*caldav.Client, error) {
	baseURL := cred.ServerURL
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: cred.Username,
			password: cred.Secret,
		},
		Timeout: requestTimeout,
	}

	client, err := caldav.NewClient(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}
	return client, nil
}

// ListCalendars discovers the calendars under the account's calendar home.
// Calendar paths double as calendar ids.
func (c *Client) ListCalendars(ctx context.Context, cred domain.Credential) ([]domain.RemoteCalendar, error) {
	client, err := c.connect(cred)
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []domain.RemoteCalendar
	for _, cal := range cals {
		result = append(result, domain.RemoteCalendar{
			ID:   cal.Path,
			Name: cal.Name,
		})
	}
	return result, nil
}

// ListEvents queries one calendar for VEVENTs in [start, end) and maps them
// to the provider-neutral raw shape. Objects that cannot be parsed are
// skipped.
func (c *Client) ListEvents(ctx context.Context, cred domain.Credential, calendarID string, start, end time.Time) ([]domain.RawEvent, error) {
	client, err := c.connect(cred)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		return nil, fmt.Errorf("calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: start,
					End:   end,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []domain.RawEvent
	for _, obj := range objects {
		event, err := parseCalendarObject(&obj)
		if err != nil {
			level.Debug(c.logger).Log("msg", "skipping calendar object", "path", obj.Path, "err", err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// parseCalendarObject maps the first VEVENT of a CalDAV object to a raw
// event. All-day DTEND values are exclusive in iCalendar and are converted to
// the inclusive last day here.
func parseCalendarObject(obj *caldav.CalendarObject) (domain.RawEvent, error) {
	if obj.Data == nil {
		return domain.RawEvent{}, fmt.Errorf("no data in calendar object")
	}

	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		event := domain.RawEvent{}
		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			event.ID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			event.Title = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			event.Description = prop.Value
		}
		if prop := comp.Props.Get(ical.PropLocation); prop != nil {
			event.Location = prop.Value
		}

		allDay := false
		if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
			t, err := prop.DateTime(time.UTC)
			if err != nil {
				return domain.RawEvent{}, fmt.Errorf("parse DTSTART: %w", err)
			}
			if prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
				allDay = true
				event.Start.Date = t.Format("2006-01-02")
			} else {
				event.Start.DateTime = t
			}
		}
		if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
			t, err := prop.DateTime(time.UTC)
			if err == nil {
				if allDay {
					event.End.Date = t.AddDate(0, 0, -1).Format("2006-01-02")
				} else {
					event.End.DateTime = t
				}
			}
		}

		return event, nil
	}

	return domain.RawEvent{}, fmt.Errorf("no VEVENT in calendar object")
}
