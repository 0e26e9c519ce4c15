/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	calendarScope  = "https://www.googleapis.com/auth/calendar.readonly"
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	eventsPageSize = 250
)

// GoogleCalendarAPI talks to the Google Calendar v3 REST API using a
// service account. Access tokens are minted with a signed JWT assertion
// and cached until shortly before expiry.
type GoogleCalendarAPI struct {
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewGoogleCalendarAPI builds the REST client.
func NewGoogleCalendarAPI() *GoogleCalendarAPI {
	return &GoogleCalendarAPI{client: &http.Client{Timeout: 30 * time.Second}}
}

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// Events implements CalendarAPI.
func (g *GoogleCalendarAPI) Events(ctx context.Context, calendarID, credentialsJSON string, from, to time.Time) ([]Event, error) {
	if calendarID == "" || credentialsJSON == "" {
		return nil, fmt.Errorf("google calendar id or credentials not configured")
	}

	var account serviceAccount
	if err := json.Unmarshal([]byte(credentialsJSON), &account); err != nil {
		return nil, fmt.Errorf("parse credentials json: %w", err)
	}
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, fmt.Errorf("credentials json missing client_email or private_key")
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}

	token, err := g.accessToken(ctx, account)
	if err != nil {
		return nil, err
	}

	var out []Event
	pageToken := ""
	for {
		page, next, err := g.eventsPage(ctx, token, calendarID, from, to, pageToken)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		pageToken = next
	}
}

func (g *GoogleCalendarAPI) accessToken(ctx context.Context, account serviceAccount) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse service account key: %w", err)
	}

	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   account.ClientEmail,
		"scope": calendarScope,
		"aud":   account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := assertion.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: %s: %s", resp.Status, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	g.token = tokenResp.AccessToken
	g.tokenExpiry = now.Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

type calendarEvent struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Start   struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		Date     string `json:"date"`
	} `json:"end"`
	Creator struct {
		Email string `json:"email"`
	} `json:"creator"`
	Attendees []struct {
		Email string `json:"email"`
	} `json:"attendees"`
}

func (g *GoogleCalendarAPI) eventsPage(ctx context.Context, token, calendarID string, from, to time.Time, pageToken string) ([]Event, string, error) {
	endpoint := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events",
		url.PathEscape(calendarID))
	query := url.Values{
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"timeMin":      {from.Format(time.RFC3339)},
		"timeMax":      {to.Format(time.RFC3339)},
		"maxResults":   {fmt.Sprint(eventsPageSize)},
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("list events: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("list events: %s: %s", resp.Status, body)
	}

	var page struct {
		NextPageToken string          `json:"nextPageToken"`
		Items         []calendarEvent `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("decode events page: %w", err)
	}

	out := make([]Event, 0, len(page.Items))
	for _, item := range page.Items {
		start, okStart := eventTime(item.Start.DateTime, item.Start.Date)
		end, okEnd := eventTime(item.End.DateTime, item.End.Date)
		if !okStart || !okEnd {
			continue
		}
		emails := make([]string, 0, len(item.Attendees)+1)
		for _, a := range item.Attendees {
			if a.Email != "" {
				emails = append(emails, a.Email)
			}
		}
		if item.Creator.Email != "" {
			emails = append(emails, item.Creator.Email)
		}
		out = append(out, Event{
			ID:     item.ID,
			Title:  item.Summary,
			Start:  start,
			End:    end,
			Emails: emails,
		})
	}
	return out, page.NextPageToken, nil
}

// eventTime handles both timed and all-day events.
func eventTime(dateTime, date string) (time.Time, bool) {
	if dateTime != "" {
		t, err := time.Parse(time.RFC3339, dateTime)
		return t, err == nil
	}
	if date != "" {
		t, err := time.ParseInLocation("2006-01-02", date, time.Local)
		return t, err == nil
	}
	return time.Time{}, false
}
