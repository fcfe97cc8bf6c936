package remote

import (
	"context"

	"taskdesk/internal/domain"
)

// SubtaskPatch carries the fields of a subtask update. Nil means
// leave unchanged.
type SubtaskPatch struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// File is one attachment payload in an upload batch.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Content  []byte
}

// Service is the remote authority consumed by the edit session. The
// transport behind it is not the session's concern; implementations
// confirm or reject each mutation intent.
type Service interface {
	GetTask(ctx context.Context, taskID string) (domain.Task, error)
	ListMembers(ctx context.Context) ([]domain.TeamMember, error)

	UpdateField(ctx context.Context, taskID, field, value string) (domain.Task, error)
	ReplaceAssignees(ctx context.Context, taskID string, memberIDs []string) (domain.Task, error)
	ReplaceTags(ctx context.Context, taskID string, tags []string) (domain.Task, error)
	SetPinned(ctx context.Context, taskID string, pinned bool) (domain.Task, error)
	SetStatus(ctx context.Context, taskID, status string) (domain.Task, error)

	CreateSubtask(ctx context.Context, taskID, title string) (domain.Subtask, error)
	UpdateSubtask(ctx context.Context, taskID, id string, patch SubtaskPatch) (domain.Subtask, error)
	DeleteSubtask(ctx context.Context, taskID, id string) error

	CreateComment(ctx context.Context, taskID, content string) (domain.Comment, error)
	UpdateComment(ctx context.Context, taskID, id, content string) (domain.Comment, error)
	DeleteComment(ctx context.Context, taskID, id string) error

	UploadAttachments(ctx context.Context, taskID string, files []File) ([]domain.Attachment, error)
	DeleteAttachment(ctx context.Context, taskID, id string) error

	DeleteTask(ctx context.Context, taskID string) error
}
