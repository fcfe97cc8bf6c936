package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
)

// Engine is the authority behind the task API: every mutation runs in
// one transaction, appends an audit event, and returns the state it
// wrote so clients can reconcile their optimistic copies.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	UploadsDir string
	Now        func() time.Time
}

func New(db *sql.DB, uploadsDir string) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		UploadsDir: uploadsDir,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// ErrTaskArchived rejects mutations against a terminal task.
var ErrTaskArchived = errors.New("task is archived")

func (e Engine) guardOpen(t domain.Task) error {
	if t.Status == domain.StatusArchived {
		return ErrTaskArchived
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	Priority    string
	Status      string
	DueDate     string
	Tags        []string
	AssigneeIDs []string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if opts.Status == "" {
		opts.Status = domain.StatusTodo
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("unknown priority %s", opts.Priority)
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("unknown status %s", opts.Status)
	}
	for _, id := range opts.AssigneeIDs {
		if _, err := e.Repo.GetMember(ctx, id); err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", id, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	t := domain.Task{
		ID:          opts.ID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Priority:    opts.Priority,
		Status:      opts.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.ID == "" {
		t.ID = newID()
	}
	if opts.DueDate != "" {
		due := opts.DueDate
		t.DueDate = &due
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Repo.ReplaceAssigneesTx(ctx, tx, t.ID, opts.AssigneeIDs); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.ReplaceTagsTx(ctx, tx, t.ID, dedupe(opts.Tags)); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.create", t.ID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	return t, tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx)
}

func (e Engine) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	return e.Repo.ListMembers(ctx)
}

func (e Engine) CreateMember(ctx context.Context, m domain.TeamMember) (domain.TeamMember, error) {
	if strings.TrimSpace(m.Name) == "" {
		return domain.TeamMember{}, errors.New("name is required")
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if err := e.Repo.InsertMember(ctx, m); err != nil {
		return domain.TeamMember{}, err
	}
	return m, nil
}

// UpdateField writes one scalar field and returns the fresh
// aggregate. Status changes go through SetStatus instead so archive
// semantics stay in one place.
func (e Engine) UpdateField(ctx context.Context, taskID, field, value, actorID string) (domain.Task, error) {
	if !domain.ValidField(field) {
		return domain.Task{}, fmt.Errorf("unknown field %s", field)
	}
	if field == domain.FieldStatus {
		return e.SetStatus(ctx, taskID, value, actorID)
	}
	if field == domain.FieldTitle && strings.TrimSpace(value) == "" {
		return domain.Task{}, errors.New("title cannot be blank")
	}
	if field == domain.FieldPriority && !domain.ValidPriority(value) {
		return domain.Task{}, fmt.Errorf("unknown priority %s", value)
	}
	return e.mutate(ctx, taskID, "task.update", "", actorID, events.EventPayload{"field": field, "value": value},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			return e.Repo.UpdateTaskFieldTx(ctx, tx, taskID, field, value, now)
		})
}

// SetStatus transitions the task. Any status can move to archived;
// archived accepts no further transitions.
func (e Engine) SetStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	if !domain.ValidStatus(status) {
		return domain.Task{}, fmt.Errorf("unknown status %s", status)
	}
	return e.mutate(ctx, taskID, "task.status", "", actorID, events.EventPayload{"status": status},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if t.Status == domain.StatusArchived && status != domain.StatusArchived {
				return ErrTaskArchived
			}
			return e.Repo.UpdateTaskFieldTx(ctx, tx, taskID, domain.FieldStatus, status, now)
		})
}

func (e Engine) SetPinned(ctx context.Context, taskID string, pinned bool, actorID string) (domain.Task, error) {
	return e.mutate(ctx, taskID, "task.pin", "", actorID, events.EventPayload{"pinned": pinned},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			return e.Repo.SetPinnedTx(ctx, tx, taskID, pinned, now)
		})
}

// ReplaceAssignees swaps the full membership set. Every member must
// exist on the roster.
func (e Engine) ReplaceAssignees(ctx context.Context, taskID string, memberIDs []string, actorID string) (domain.Task, error) {
	for _, id := range memberIDs {
		if _, err := e.Repo.GetMember(ctx, id); err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", id, err)
		}
	}
	return e.mutate(ctx, taskID, "task.assignees", "", actorID, events.EventPayload{"assignee_ids": memberIDs},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.ReplaceAssigneesTx(ctx, tx, taskID, memberIDs); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
}

// ReplaceTags swaps the full tag set. Duplicates collapse, first
// occurrence wins.
func (e Engine) ReplaceTags(ctx context.Context, taskID string, tags []string, actorID string) (domain.Task, error) {
	clean := dedupe(tags)
	return e.mutate(ctx, taskID, "task.tags", "", actorID, events.EventPayload{"tags": clean},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.ReplaceTagsTx(ctx, tx, taskID, clean); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
}

func (e Engine) CreateSubtask(ctx context.Context, taskID, title, actorID string) (domain.Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Subtask{}, errors.New("title cannot be blank")
	}
	s := domain.Subtask{ID: newID(), Title: title}
	_, err := e.mutate(ctx, taskID, "subtask.create", s.ID, actorID, events.EventPayload{"title": title},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.InsertSubtaskTx(ctx, tx, taskID, s); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return s, err
}

// SubtaskPatch updates title and/or completion. Nil fields are left
// unchanged.
func (e Engine) UpdateSubtask(ctx context.Context, taskID, id string, title *string, completed *bool, actorID string) (domain.Subtask, error) {
	if title != nil && strings.TrimSpace(*title) == "" {
		return domain.Subtask{}, errors.New("title cannot be blank")
	}
	var out domain.Subtask
	_, err := e.mutate(ctx, taskID, "subtask.update", id, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			s, err := e.Repo.GetSubtaskTx(ctx, tx, taskID, id)
			if err != nil {
				return err
			}
			if title != nil {
				s.Title = strings.TrimSpace(*title)
			}
			if completed != nil {
				s.Completed = *completed
			}
			if err := e.Repo.UpdateSubtaskTx(ctx, tx, taskID, s); err != nil {
				return err
			}
			out = s
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return out, err
}

func (e Engine) DeleteSubtask(ctx context.Context, taskID, id, actorID string) error {
	_, err := e.mutate(ctx, taskID, "subtask.delete", id, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.DeleteSubtaskTx(ctx, tx, taskID, id); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return err
}

func (e Engine) CreateComment(ctx context.Context, taskID, content, actorID string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, errors.New("content cannot be blank")
	}
	c := domain.Comment{ID: newID(), Content: content, AuthorID: actorID, CreatedAt: e.timestamp()}
	_, err := e.mutate(ctx, taskID, "comment.create", c.ID, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.InsertCommentTx(ctx, tx, taskID, c); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return c, err
}

func (e Engine) UpdateComment(ctx context.Context, taskID, id, content, actorID string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, errors.New("content cannot be blank")
	}
	var out domain.Comment
	_, err := e.mutate(ctx, taskID, "comment.update", id, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.UpdateCommentTx(ctx, tx, taskID, id, content, now); err != nil {
				return err
			}
			c, err := e.Repo.GetCommentTx(ctx, tx, taskID, id)
			if err != nil {
				return err
			}
			out = c
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return out, err
}

func (e Engine) DeleteComment(ctx context.Context, taskID, id, actorID string) error {
	_, err := e.mutate(ctx, taskID, "comment.delete", id, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			if err := e.Repo.DeleteCommentTx(ctx, tx, taskID, id); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	return err
}

// UploadFile is one file in an attachment batch.
type UploadFile struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// SaveAttachments stores a whole batch: file bytes under UploadsDir,
// one row each, all in a single transaction. A batch either lands
// completely or not at all; written files are removed on rollback.
func (e Engine) SaveAttachments(ctx context.Context, taskID string, files []UploadFile, actorID string) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, errors.New("empty upload batch")
	}
	if e.UploadsDir == "" {
		return nil, errors.New("uploads dir not configured")
	}
	var (
		saved   []domain.Attachment
		written []string
	)
	cleanup := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}
	_, err := e.mutate(ctx, taskID, "attachment.upload", "", actorID, events.EventPayload{"count": len(files)},
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			for _, f := range files {
				a := domain.Attachment{
					ID:         newID(),
					Name:       filepath.Base(f.Name),
					MimeType:   f.MimeType,
					UploadedBy: actorID,
					UploadedAt: now,
				}
				if a.MimeType == "" {
					a.MimeType = mime.TypeByExtension(filepath.Ext(a.Name))
				}
				a.StoragePath = filepath.Join(taskID, a.ID+"_"+a.Name)
				dst := filepath.Join(e.UploadsDir, a.StoragePath)
				if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
					return err
				}
				out, err := os.Create(dst)
				if err != nil {
					return err
				}
				written = append(written, dst)
				n, err := io.Copy(out, f.Content)
				if cerr := out.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return fmt.Errorf("store %s: %w", a.Name, err)
				}
				a.SizeBytes = n
				if err := e.Repo.InsertAttachmentTx(ctx, tx, taskID, a); err != nil {
					return err
				}
				a.State = domain.AttachmentConfirmed
				saved = append(saved, a)
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	if err != nil {
		cleanup()
		return nil, err
	}
	return saved, nil
}

// DeleteAttachment removes the row and best-effort removes the stored
// file.
func (e Engine) DeleteAttachment(ctx context.Context, taskID, id, actorID string) error {
	var storagePath string
	_, err := e.mutate(ctx, taskID, "attachment.delete", id, actorID, nil,
		func(tx *sql.Tx, t domain.Task, now string) error {
			if err := e.guardOpen(t); err != nil {
				return err
			}
			a, err := e.Repo.GetAttachmentTx(ctx, tx, taskID, id)
			if err != nil {
				return err
			}
			storagePath = a.StoragePath
			if err := e.Repo.DeleteAttachmentTx(ctx, tx, taskID, id); err != nil {
				return err
			}
			return e.Repo.TouchTaskTx(ctx, tx, taskID, now)
		})
	if err != nil {
		return err
	}
	if storagePath != "" && e.UploadsDir != "" {
		os.Remove(filepath.Join(e.UploadsDir, storagePath))
	}
	return nil
}

// DeleteTask removes the task and all sub-entities. Cascades handle
// the child rows; the audit event outlives the task.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.delete", taskID, "task", taskID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.UploadsDir != "" {
		os.RemoveAll(filepath.Join(e.UploadsDir, taskID))
	}
	return nil
}

// mutate wraps one mutation: begin, load the task, apply, append the
// audit event, commit, and return the aggregate as written.
func (e Engine) mutate(ctx context.Context, taskID, evtType, entityID, actorID string, payload events.EventPayload,
	apply func(tx *sql.Tx, t domain.Task, now string) error) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	if err := apply(tx, t, now); err != nil {
		return domain.Task{}, err
	}
	entityKind := evtType
	if i := strings.IndexByte(evtType, '.'); i > 0 {
		entityKind = evtType[:i]
	}
	if entityID == "" {
		entityID = taskID
	}
	if err := e.Events.Append(ctx, tx, evtType, taskID, entityKind, entityID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return t, tx.Commit()
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
