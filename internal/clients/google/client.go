// Package google wraps the Google Calendar API behind the provider-neutral
// calendar source shape. It owns the OAuth2 configuration as well, since the
// authorization flow and the API calls share one client registration.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"daysync/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const maxListRetries = 3

// Client talks to the Google Calendar API. Like the CalDAV client it is
// stateless: every call receives a decrypted credential.
type Client struct {
	config *oauth2.Config
	logger log.Logger
}

func NewClient(clientID, clientSecret, redirectURL string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     googleauth.Endpoint,
		},
		logger: logger,
	}
}

// IsConfigured returns true if the OAuth2 client registration is complete
func (c *Client) IsConfigured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != "" && c.config.RedirectURL != ""
}

// AuthCodeURL builds the consent URL. Offline access with forced consent so
// Google issues a refresh token on every connect, not just the first.
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// Refresh obtains a fresh access token from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

func (c *Client) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("init calendar service: %w", err)
	}
	return svc, nil
}

// AccountEmail returns the account's address. The primary calendar-list
// entry's id is the account email.
func (c *Client) AccountEmail(ctx context.Context, accessToken string) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	entry, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get primary calendar: %w", err)
	}
	return entry.Id, nil
}

// ListCalendars returns every calendar visible in the account's calendar
// list.
func (c *Client) ListCalendars(ctx context.Context, cred domain.Credential) ([]domain.RemoteCalendar, error) {
	svc, err := c.service(ctx, cred.Secret)
	if err != nil {
		return nil, err
	}

	var result []domain.RemoteCalendar
	pageToken := ""
	for {
		call := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list calendars: %w", err)
		}
		for _, item := range list.Items {
			result = append(result, domain.RemoteCalendar{
				ID:      item.Id,
				Name:    item.Summary,
				Color:   item.BackgroundColor,
				Primary: item.Primary,
			})
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return result, nil
}

// ListEvents fetches single-instance events in [start, end) from one
// calendar. Recurring events are expanded server-side. Rate-limit and server
// errors are retried with exponential backoff.
func (c *Client) ListEvents(ctx context.Context, cred domain.Credential, calendarID string, start, end time.Time) ([]domain.RawEvent, error) {
	svc, err := c.service(ctx, cred.Secret)
	if err != nil {
		return nil, err
	}

	var result []domain.RawEvent
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			Context(ctx).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(false).
			OrderBy("startTime").
			MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := c.listPage(ctx, call, calendarID)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			result = append(result, rawEvent(item))
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return result, nil
}

func (c *Client) listPage(ctx context.Context, call *calendar.EventsListCall, calendarID string) (*calendar.Events, error) {
	var page *calendar.Events
	op := func() error {
		p, err := call.Do()
		if err != nil {
			if retryable(err) {
				level.Debug(c.logger).Log("msg", "retrying events page", "calendar_id", calendarID, "err", err)
				return err
			}
			return backoff.Permanent(err)
		}
		page = p
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxListRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("list events for %s: %w", calendarID, err)
	}
	return page, nil
}

// retryable treats rate limiting and server errors as transient. Anything
// without an API status code is assumed to be a network hiccup.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

// rawEvent maps one API event to the provider-neutral shape. Google reports
// all-day end dates exclusively; they are converted to the inclusive last day
// so downstream code only sees inclusive bounds.
func rawEvent(item *calendar.Event) domain.RawEvent {
	raw := domain.RawEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}

	if item.Start != nil {
		if item.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
				raw.Start.DateTime = t
			}
		} else {
			raw.Start.Date = item.Start.Date
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				raw.End.DateTime = t
			}
		} else if item.End.Date != "" {
			if d, err := time.Parse("2006-01-02", item.End.Date); err == nil {
				raw.End.Date = d.AddDate(0, 0, -1).Format("2006-01-02")
			}
		}
	}
	return raw
}
