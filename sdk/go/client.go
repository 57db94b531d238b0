// Package garrisonsdk is a minimal Garrison HTTP API client. It implements
// the remote procedure surface consumed by the client-side stores.
package garrisonsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"garrison/internal/domain"
)

// Client is a Garrison HTTP API client.
type Client struct {
	BaseURL     string
	Unit        string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, unit string) *Client {
	return &Client{
		BaseURL: baseURL,
		Unit:    unit,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Unit       string         `json:"unit"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// GetReports lists the unit's reports.
func (c *Client) GetReports(ctx context.Context) ([]domain.Report, error) {
	var resp []domain.Report
	err := c.do(ctx, http.MethodGet, "v0/reports", nil, &resp)
	return resp, err
}

// CreateReport creates a report; the server assigns workflow state from the
// submit flag and approver list.
func (c *Client) CreateReport(ctx context.Context, rep domain.Report) (domain.Report, error) {
	body := map[string]any{
		"id":        rep.ID,
		"title":     rep.Title,
		"content":   rep.Content,
		"type":      rep.Type,
		"priority":  rep.Priority,
		"approvers": rep.Approvers,
		"submit":    rep.Status != "draft",
	}
	if rep.AttachmentsJSON != nil {
		body["attachments"] = *rep.AttachmentsJSON
	}
	var resp domain.Report
	err := c.do(ctx, http.MethodPost, "v0/reports", body, &resp)
	return resp, err
}

// UpdateReport patches a draft's editable fields.
func (c *Client) UpdateReport(ctx context.Context, rep domain.Report) (domain.Report, error) {
	body := map[string]any{
		"title":    rep.Title,
		"content":  rep.Content,
		"priority": rep.Priority,
	}
	var resp domain.Report
	err := c.do(ctx, http.MethodPatch, "v0/reports/"+url.PathEscape(rep.ID), body, &resp)
	return resp, err
}

// SubmitReport moves a draft into the approval chain.
func (c *Client) SubmitReport(ctx context.Context, id string) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

func (c *Client) ApproveReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return c.decide(ctx, id, "approve", comment)
}

func (c *Client) RejectReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return c.decide(ctx, id, "reject", comment)
}

func (c *Client) RequestRevision(ctx context.Context, id, approverID, comment string) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(id)+"/request-revision", map[string]any{
		"comment": comment,
	}, &resp)
	return resp, err
}

func (c *Client) decide(ctx context.Context, id, action string, comment *string) (domain.Report, error) {
	body := map[string]any{}
	if comment != nil {
		body["comment"] = *comment
	}
	var resp domain.Report
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(id)+"/"+action, body, &resp)
	return resp, err
}

// SubmitRevision appends a new version and restarts the chain.
func (c *Client) SubmitRevision(ctx context.Context, id, authorID, title, content string, attachments, comment *string) (domain.Report, error) {
	body := map[string]any{
		"title":   title,
		"content": content,
	}
	if attachments != nil {
		body["attachments"] = *attachments
	}
	if comment != nil {
		body["comment"] = *comment
	}
	var resp domain.Report
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(id)+"/revisions", body, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, id, authorID, content string) (domain.ReportComment, error) {
	var resp domain.ReportComment
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(id)+"/comments", map[string]any{
		"content": content,
	}, &resp)
	return resp, err
}

// GetReportsForApproval lists reports waiting on the authenticated caller.
func (c *Client) GetReportsForApproval(ctx context.Context, userID string) ([]domain.Report, error) {
	var resp []domain.Report
	err := c.do(ctx, http.MethodGet, "v0/reports/pending", nil, &resp)
	return resp, err
}

func (c *Client) GetReport(ctx context.Context, id string) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, http.MethodGet, "v0/reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) DeleteReport(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/reports/"+url.PathEscape(id), nil, nil)
}

// GetTasks lists the unit's tasks.
func (c *Client) GetTasks(ctx context.Context) ([]domain.Task, error) {
	var resp []domain.Task
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	body := map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"assigned_to": t.AssignedTo,
		"priority":    t.Priority,
	}
	if t.DueDate != nil {
		body["due_date"] = *t.DueDate
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	body := map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"assigned_to": t.AssignedTo,
		"status":      t.Status,
		"priority":    t.Priority,
	}
	if t.DueDate != nil {
		body["due_date"] = *t.DueDate
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(t.ID), body, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, nil)
}

// TaskStats returns counts by status and priority.
func (c *Client) TaskStats(ctx context.Context) (domain.TaskStats, error) {
	var resp domain.TaskStats
	err := c.do(ctx, http.MethodGet, "v0/tasks/stats", nil, &resp)
	return resp, err
}

// Notifications lists the caller's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	endpoint := "v0/notifications"
	params := url.Values{}
	if unreadOnly {
		params.Set("unread", "true")
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []domain.Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "v0/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Unit != "" {
		req.Header.Set("X-Unit-Id", c.Unit)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
