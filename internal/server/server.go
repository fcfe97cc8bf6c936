package server

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig

	// MaxUploadBytes caps the attachment upload request body.
	// Zero means the 25 MiB default from internal/config.
	MaxUploadBytes int64
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskdesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskdesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerSubtasks(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	registerAttachments(group, cfg.Engine, maxUpload)
	registerMembers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	default:
		return "internal"
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrTaskArchived) {
		return newAPIError(http.StatusConflict, "task_archived", err.Error(), nil)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "required"),
		strings.Contains(msg, "cannot be blank"),
		strings.Contains(msg, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal", msg, nil)
}

type taskOut struct {
	Body domain.Task `json:"body"`
}

func taskOutput(t domain.Task) *taskOut {
	return &taskOut{Body: t}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:          input.Body.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Status:      input.Body.Status,
			DueDate:     input.Body.DueDate,
			Tags:        input.Body.Tags,
			AssigneeIDs: input.Body.AssigneeIDs,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*taskOut, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-field",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/fields/{field}",
		Summary:     "Update one scalar field",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID    string            `path:"id"`
		Field string            `path:"field"`
		Body  FieldValueRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateField(ctx, input.ID, input.Field, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Transition task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-pin",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/pin",
		Summary:     "Pin or unpin task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body PinRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetPinned(ctx, input.ID, input.Body.Pinned, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-assignees",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/assignees",
		Summary:     "Replace the full assignee set",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AssigneesRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReplaceAssignees(ctx, input.ID, input.Body.AssigneeIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-tags",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/tags",
		Summary:     "Replace the full tag set",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TagsRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReplaceTags(ctx, input.ID, input.Body.Tags, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return taskOutput(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerSubtasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/subtasks",
		Summary:       "Add subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SubtaskCreateRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSubtask(ctx, input.ID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-subtask",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/subtasks/{subtask_id}",
		Summary:     "Update subtask title or completion",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID        string              `path:"id"`
		SubtaskID string              `path:"subtask_id"`
		Body      SubtaskPatchRequest `json:"body"`
	}) (*struct {
		Body domain.Subtask `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSubtask(ctx, input.ID, input.SubtaskID, input.Body.Title, input.Body.Completed, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subtask `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-subtask",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/subtasks/{subtask_id}",
		Summary:       "Delete subtask",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		SubtaskID string `path:"subtask_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSubtask(ctx, input.ID, input.SubtaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateComment(ctx, input.ID, input.Body.Content, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/comments/{comment_id}",
		Summary:     "Edit comment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID        string         `path:"id"`
		CommentID string         `path:"comment_id"`
		Body      CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateComment(ctx, input.ID, input.CommentID, input.Body.Content, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/comments/{comment_id}",
		Summary:       "Delete comment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		CommentID string `path:"comment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteComment(ctx, input.ID, input.CommentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerAttachments(api huma.API, e engine.Engine, maxUploadBytes int64) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-attachments",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/attachments",
		Summary:       "Upload an attachment batch",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		RawBody multipart.Form
	}) (*struct {
		Body attachmentList `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		headers := input.RawBody.File["files"]
		if len(headers) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "at least one file is required", nil)
		}
		var files []engine.UploadFile
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("open %s: %v", h.Filename, err), nil)
			}
			defer f.Close()
			files = append(files, engine.UploadFile{
				Name:     h.Filename,
				MimeType: h.Header.Get("Content-Type"),
				Content:  f,
			})
		}
		saved, err := e.SaveAttachments(ctx, input.ID, files, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body attachmentList `json:"body"`
		}{Body: attachmentList{Items: saved}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-attachment",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/attachments/{attachment_id}",
		Summary:       "Delete attachment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID           string `path:"id"`
		AttachmentID string `path:"attachment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAttachment(ctx, input.ID, input.AttachmentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List team members",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body memberList `json:"body"`
	}, error) {
		members, err := e.ListMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if members == nil {
			members = []domain.TeamMember{}
		}
		return &struct {
			Body memberList `json:"body"`
		}{Body: memberList{Items: members}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Add team member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body MemberRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		m, err := e.CreateMember(ctx, domain.TeamMember{ID: input.Body.ID, Name: input.Body.Name, Avatar: input.Body.Avatar})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-events",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/events",
		Summary:     "Tail the task audit log",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body struct {
			Items []events.Event `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Events.Tail(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []events.Event{}
		}
		resp := &struct {
			Body struct {
				Items []events.Event `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		return resp, nil
	})
}
