package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"taskdesk/internal/domain"
)

// HTTPService talks to the taskdesk authority over its JSON API. All
// calls go through a circuit breaker so a flapping authority trips
// fast instead of piling up hung requests.
type HTTPService struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	breaker *gobreaker.CircuitBreaker
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// NewHTTPService creates a client with sane defaults.
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "taskdesk-api",
			MaxRequests: 1,
			Timeout:     2 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
		}),
	}
}

var _ Service = (*HTTPService)(nil)

func (c *HTTPService) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// CreateTaskOptions seeds a new task at the authority. Not part of
// the edit session; the session starts from a task that already
// exists.
type CreateTaskOptions struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Status      string   `json:"status,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
}

func (c *HTTPService) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", opts, &resp)
	return resp, err
}

func (c *HTTPService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp struct {
		Items []domain.Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp.Items, err
}

func (c *HTTPService) CreateMember(ctx context.Context, m domain.TeamMember) (domain.TeamMember, error) {
	var resp domain.TeamMember
	err := c.do(ctx, http.MethodPost, "v0/members", m, &resp)
	return resp, err
}

func (c *HTTPService) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	var resp struct {
		Items []domain.TeamMember `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/members", nil, &resp)
	return resp.Items, err
}

func (c *HTTPService) UpdateField(ctx context.Context, taskID, field, value string) (domain.Task, error) {
	var resp domain.Task
	endpoint := c.taskPath(taskID, "fields/"+url.PathEscape(field))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"value": value}, &resp)
	return resp, err
}

func (c *HTTPService) ReplaceAssignees(ctx context.Context, taskID string, memberIDs []string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, c.taskPath(taskID, "assignees"), map[string]any{"assignee_ids": memberIDs}, &resp)
	return resp, err
}

func (c *HTTPService) ReplaceTags(ctx context.Context, taskID string, tags []string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, c.taskPath(taskID, "tags"), map[string]any{"tags": tags}, &resp)
	return resp, err
}

func (c *HTTPService) SetPinned(ctx context.Context, taskID string, pinned bool) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, c.taskPath(taskID, "pin"), map[string]any{"pinned": pinned}, &resp)
	return resp, err
}

func (c *HTTPService) SetStatus(ctx context.Context, taskID, status string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPatch, c.taskPath(taskID, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *HTTPService) CreateSubtask(ctx context.Context, taskID, title string) (domain.Subtask, error) {
	var resp domain.Subtask
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "subtasks"), map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *HTTPService) UpdateSubtask(ctx context.Context, taskID, id string, patch SubtaskPatch) (domain.Subtask, error) {
	var resp domain.Subtask
	endpoint := c.taskPath(taskID, "subtasks/"+url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

func (c *HTTPService) DeleteSubtask(ctx context.Context, taskID, id string) error {
	return c.do(ctx, http.MethodDelete, c.taskPath(taskID, "subtasks/"+url.PathEscape(id)), nil, nil)
}

func (c *HTTPService) CreateComment(ctx context.Context, taskID, content string) (domain.Comment, error) {
	var resp domain.Comment
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "comments"), map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *HTTPService) UpdateComment(ctx context.Context, taskID, id, content string) (domain.Comment, error) {
	var resp domain.Comment
	endpoint := c.taskPath(taskID, "comments/"+url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"content": content}, &resp)
	return resp, err
}

func (c *HTTPService) DeleteComment(ctx context.Context, taskID, id string) error {
	return c.do(ctx, http.MethodDelete, c.taskPath(taskID, "comments/"+url.PathEscape(id)), nil, nil)
}

// UploadAttachments submits the whole batch as one multipart request.
func (c *HTTPService) UploadAttachments(ctx context.Context, taskID string, files []File) ([]domain.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	endpoint := c.base() + "/" + c.taskPath(taskID, "attachments")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)
	var resp struct {
		Items []domain.Attachment `json:"items"`
	}
	if err := c.execute(req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *HTTPService) DeleteAttachment(ctx context.Context, taskID, id string) error {
	return c.do(ctx, http.MethodDelete, c.taskPath(taskID, "attachments/"+url.PathEscape(id)), nil, nil)
}

func (c *HTTPService) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, c.taskPath(taskID, ""), nil, nil)
}

func (c *HTTPService) do(ctx context.Context, method, endpoint string, body any, out any) error {
	endpoint = c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.execute(req, out)
}

func (c *HTTPService) execute(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "taskdesk-api"})
	}
	_, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		if out != nil {
			return nil, json.NewDecoder(resp.Body).Decode(out)
		}
		return nil, nil
	})
	return err
}

func (c *HTTPService) authorize(req *http.Request) {
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
}

func (c *HTTPService) taskPath(taskID, p string) string {
	id := url.PathEscape(taskID)
	if p == "" {
		return fmt.Sprintf("v0/tasks/%s", id)
	}
	return fmt.Sprintf("v0/tasks/%s/%s", id, strings.TrimLeft(p, "/"))
}

func (c *HTTPService) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
