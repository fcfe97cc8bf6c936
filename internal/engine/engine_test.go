package engine_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	uploads, err := db.UploadsDir(dir)
	if err != nil {
		t.Fatalf("uploads dir: %v", err)
	}
	eng := engine.New(conn, uploads)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, m := range []domain.TeamMember{{ID: "m1", Name: "Ana"}, {ID: "m2", Name: "Bo"}} {
		if _, err := eng.CreateMember(ctx, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustCreateTask(t *testing.T, env testEnv) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:   "Ship feature",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestUpdateFieldValidation(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	task, err := env.Engine.UpdateField(env.Ctx, task.ID, "title", "Renamed", "tester")
	if err != nil || task.Title != "Renamed" {
		t.Fatalf("rename: %v (%+v)", err, task)
	}
	if _, err := env.Engine.UpdateField(env.Ctx, task.ID, "title", "   ", "tester"); err == nil {
		t.Fatalf("blank title must be rejected")
	}
	if _, err := env.Engine.UpdateField(env.Ctx, task.ID, "priority", "severe", "tester"); err == nil {
		t.Fatalf("unknown priority must be rejected")
	}
	if _, err := env.Engine.UpdateField(env.Ctx, task.ID, "color", "red", "tester"); err == nil {
		t.Fatalf("unknown field must be rejected")
	}
	task, err = env.Engine.UpdateField(env.Ctx, task.ID, "due_date", "2024-02-01", "tester")
	if err != nil || task.DueDate == nil || *task.DueDate != "2024-02-01" {
		t.Fatalf("set due date: %v (%+v)", err, task.DueDate)
	}
	task, err = env.Engine.UpdateField(env.Ctx, task.ID, "due_date", "", "tester")
	if err != nil || task.DueDate != nil {
		t.Fatalf("clearing due date: %v (%+v)", err, task.DueDate)
	}
}

func TestArchivedTaskRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	task, err := env.Engine.SetStatus(env.Ctx, task.ID, "archived", "tester")
	if err != nil || task.Status != "archived" {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.Engine.UpdateField(env.Ctx, task.ID, "title", "nope", "tester"); !errors.Is(err, engine.ErrTaskArchived) {
		t.Fatalf("expected archived rejection, got %v", err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, task.ID, "todo", "tester"); !errors.Is(err, engine.ErrTaskArchived) {
		t.Fatalf("expected archived rejection on unarchive, got %v", err)
	}
	if _, err := env.Engine.CreateSubtask(env.Ctx, task.ID, "late", "tester"); !errors.Is(err, engine.ErrTaskArchived) {
		t.Fatalf("expected archived rejection on subtask, got %v", err)
	}
}

func TestSubtaskLifecycleAndProgress(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		s, err := env.Engine.CreateSubtask(env.Ctx, task.ID, title, "tester")
		if err != nil {
			t.Fatalf("create subtask: %v", err)
		}
		ids = append(ids, s.ID)
	}
	task, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil || task.Progress != 0 {
		t.Fatalf("expected 0%%: %v (%d)", err, task.Progress)
	}
	done := true
	if _, err := env.Engine.UpdateSubtask(env.Ctx, task.ID, ids[0], nil, &done, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if task.Progress != 25 {
		t.Fatalf("expected 25%%, got %d", task.Progress)
	}
	if _, err := env.Engine.UpdateSubtask(env.Ctx, task.ID, ids[1], nil, &done, "tester"); err != nil {
		t.Fatal(err)
	}
	task, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if task.Progress != 50 {
		t.Fatalf("expected 50%%, got %d", task.Progress)
	}
	title := "renamed"
	s, err := env.Engine.UpdateSubtask(env.Ctx, task.ID, ids[2], &title, nil, "tester")
	if err != nil || s.Title != "renamed" {
		t.Fatalf("rename: %v (%+v)", err, s)
	}
	if err := env.Engine.DeleteSubtask(env.Ctx, task.ID, ids[3], "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.DeleteSubtask(env.Ctx, task.ID, "missing", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if len(task.Subtasks) != 3 || task.Progress != 67 {
		t.Fatalf("expected 3 subtasks at 67%%, got %d at %d%%", len(task.Subtasks), task.Progress)
	}
}

func TestAssigneesValidateRoster(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	task, err := env.Engine.ReplaceAssignees(env.Ctx, task.ID, []string{"m1", "m2"}, "tester")
	if err != nil || len(task.AssigneeIDs) != 2 {
		t.Fatalf("assign: %v (%v)", err, task.AssigneeIDs)
	}
	if _, err := env.Engine.ReplaceAssignees(env.Ctx, task.ID, []string{"ghost"}, "tester"); err == nil {
		t.Fatalf("unknown member must be rejected")
	}
	task, err = env.Engine.ReplaceAssignees(env.Ctx, task.ID, []string{"m2"}, "tester")
	if err != nil || len(task.AssigneeIDs) != 1 || task.AssigneeIDs[0] != "m2" {
		t.Fatalf("replace is a full swap: %v (%v)", err, task.AssigneeIDs)
	}
}

func TestTagsCollapseDuplicates(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	task, err := env.Engine.ReplaceTags(env.Ctx, task.ID, []string{"urgent", "urgent", " backend "}, "tester")
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "urgent" || task.Tags[1] != "backend" {
		t.Fatalf("expected deduped trimmed tags, got %v", task.Tags)
	}
}

func TestCommentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	c, err := env.Engine.CreateComment(env.Ctx, task.ID, "first", "m1")
	if err != nil || c.AuthorID != "m1" {
		t.Fatalf("create comment: %v (%+v)", err, c)
	}
	updated, err := env.Engine.UpdateComment(env.Ctx, task.ID, c.ID, "edited", "m1")
	if err != nil || updated.Content != "edited" || updated.UpdatedAt == nil {
		t.Fatalf("update comment: %v (%+v)", err, updated)
	}
	if err := env.Engine.DeleteComment(env.Ctx, task.ID, c.ID, "m1"); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	task, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if len(task.Comments) != 0 {
		t.Fatalf("expected no comments, got %+v", task.Comments)
	}
}

func TestAttachmentBatchPersistsFiles(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	saved, err := env.Engine.SaveAttachments(env.Ctx, task.ID, []engine.UploadFile{
		{Name: "notes.txt", Content: bytes.NewBufferString("hello")},
		{Name: "img.png", MimeType: "image/png", Content: bytes.NewBufferString("png-bytes")},
	}, "m1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(saved))
	}
	if saved[0].SizeBytes != 5 {
		t.Fatalf("expected measured size, got %d", saved[0].SizeBytes)
	}
	for _, a := range saved {
		if _, err := os.Stat(filepath.Join(env.Engine.UploadsDir, a.StoragePath)); err != nil {
			t.Fatalf("stored file missing: %v", err)
		}
	}
	if err := env.Engine.DeleteAttachment(env.Ctx, task.ID, saved[0].ID, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.Engine.UploadsDir, saved[0].StoragePath)); !os.IsNotExist(err) {
		t.Fatalf("expected stored file removed, got %v", err)
	}
	task, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if len(task.Attachments) != 1 {
		t.Fatalf("expected 1 attachment left, got %d", len(task.Attachments))
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env)

	if _, err := env.Engine.CreateSubtask(env.Ctx, task.ID, "child", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateComment(env.Ctx, task.ID, "note", "m1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("double delete must report not found, got %v", err)
	}
}
