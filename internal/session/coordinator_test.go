package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/remote"
	"taskdesk/internal/session"
)

// fakeRemote echoes mutations back the way the authority would,
// recording every call. gate/entered make confirmation ordering
// controllable from tests.
type fakeRemote struct {
	mu     sync.Mutex
	ops    []string
	nextID int

	gate    chan struct{}
	entered chan string
	fail    map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fail: map[string]error{}}
}

func (f *fakeRemote) begin(op string) error {
	if f.entered != nil {
		f.entered <- op
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.ops = append(f.ops, op)
	err := f.fail[opName(op)]
	f.mu.Unlock()
	return err
}

func opName(op string) string {
	for i := 0; i < len(op); i++ {
		if op[i] == ' ' {
			return op[:i]
		}
	}
	return op
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeRemote) serverID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("srv-%d", f.nextID)
}

func (f *fakeRemote) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	if err := f.begin("getTask " + taskID); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{ID: taskID}, nil
}

func (f *fakeRemote) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	if err := f.begin("listMembers"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeRemote) UpdateField(ctx context.Context, taskID, field, value string) (domain.Task, error) {
	if err := f.begin(fmt.Sprintf("updateField %s=%s", field, value)); err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	switch field {
	case domain.FieldTitle:
		t.Title = value
	case domain.FieldDescription:
		t.Description = value
	case domain.FieldPriority:
		t.Priority = value
	case domain.FieldDueDate:
		t.DueDate = &value
	}
	return t, nil
}

func (f *fakeRemote) ReplaceAssignees(ctx context.Context, taskID string, memberIDs []string) (domain.Task, error) {
	if err := f.begin(fmt.Sprintf("replaceAssignees %v", memberIDs)); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{AssigneeIDs: append([]string(nil), memberIDs...)}, nil
}

func (f *fakeRemote) ReplaceTags(ctx context.Context, taskID string, tags []string) (domain.Task, error) {
	if err := f.begin(fmt.Sprintf("replaceTags %v", tags)); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{Tags: append([]string(nil), tags...)}, nil
}

func (f *fakeRemote) SetPinned(ctx context.Context, taskID string, pinned bool) (domain.Task, error) {
	if err := f.begin(fmt.Sprintf("setPinned %v", pinned)); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{IsPinned: pinned}, nil
}

func (f *fakeRemote) SetStatus(ctx context.Context, taskID, status string) (domain.Task, error) {
	if err := f.begin("setStatus " + status); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{Status: status}, nil
}

func (f *fakeRemote) CreateSubtask(ctx context.Context, taskID, title string) (domain.Subtask, error) {
	if err := f.begin("createSubtask " + title); err != nil {
		return domain.Subtask{}, err
	}
	return domain.Subtask{ID: f.serverID(), Title: title}, nil
}

func (f *fakeRemote) UpdateSubtask(ctx context.Context, taskID, id string, patch remote.SubtaskPatch) (domain.Subtask, error) {
	if err := f.begin("updateSubtask " + id); err != nil {
		return domain.Subtask{}, err
	}
	st := domain.Subtask{ID: id}
	if patch.Title != nil {
		st.Title = *patch.Title
	}
	if patch.Completed != nil {
		st.Completed = *patch.Completed
	}
	return st, nil
}

func (f *fakeRemote) DeleteSubtask(ctx context.Context, taskID, id string) error {
	return f.begin("deleteSubtask " + id)
}

func (f *fakeRemote) CreateComment(ctx context.Context, taskID, content string) (domain.Comment, error) {
	if err := f.begin("createComment " + content); err != nil {
		return domain.Comment{}, err
	}
	return domain.Comment{ID: f.serverID(), Content: content, AuthorID: "author-1", CreatedAt: "2024-05-01T00:00:00Z"}, nil
}

func (f *fakeRemote) UpdateComment(ctx context.Context, taskID, id, content string) (domain.Comment, error) {
	if err := f.begin("updateComment " + id); err != nil {
		return domain.Comment{}, err
	}
	updated := "2024-05-02T00:00:00Z"
	return domain.Comment{ID: id, Content: content, UpdatedAt: &updated}, nil
}

func (f *fakeRemote) DeleteComment(ctx context.Context, taskID, id string) error {
	return f.begin("deleteComment " + id)
}

func (f *fakeRemote) UploadAttachments(ctx context.Context, taskID string, files []remote.File) ([]domain.Attachment, error) {
	names := make([]string, 0, len(files))
	for _, fl := range files {
		names = append(names, fl.Name)
	}
	if err := f.begin(fmt.Sprintf("uploadAttachments %v", names)); err != nil {
		return nil, err
	}
	out := make([]domain.Attachment, 0, len(files))
	for _, fl := range files {
		out = append(out, domain.Attachment{
			ID:          f.serverID(),
			Name:        fl.Name,
			SizeBytes:   fl.Size,
			MimeType:    fl.MimeType,
			StoragePath: "uploads/" + fl.Name,
			UploadedAt:  "2024-05-01T00:00:00Z",
		})
	}
	return out, nil
}

func (f *fakeRemote) DeleteAttachment(ctx context.Context, taskID, id string) error {
	return f.begin("deleteAttachment " + id)
}

func (f *fakeRemote) DeleteTask(ctx context.Context, taskID string) error {
	return f.begin("deleteTask " + taskID)
}

func baseTask() domain.Task {
	return domain.Task{
		ID:       "task-1",
		Title:    "Ship feature",
		Priority: domain.PriorityMedium,
		Status:   domain.StatusTodo,
	}
}

func roster() []domain.TeamMember {
	return []domain.TeamMember{
		{ID: "m1", Name: "Ana"},
		{ID: "m2", Name: "Bo"},
	}
}

func newSession(t *testing.T, f *fakeRemote, task domain.Task, cb session.Callbacks) *session.Coordinator {
	t.Helper()
	c := session.New(f, task, roster(), cb, nil)
	c.Now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(c.Close)
	return c
}

func TestCommitUnchangedValueIssuesNoIntent(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.BeginEdit(domain.FieldTitle); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if err := c.CommitEdit(domain.FieldTitle, "Ship feature"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	c.Drain()
	if calls := f.calls(); len(calls) != 0 {
		t.Fatalf("expected zero intents, got %v", calls)
	}
	if c.Editing(domain.FieldTitle) {
		t.Fatalf("expected edit mode exited")
	}
}

func TestFieldEditModesAreIndependent(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.BeginEdit(domain.FieldTitle); err != nil {
		t.Fatal(err)
	}
	if c.Editing(domain.FieldDescription) || c.Editing(domain.FieldPriority) {
		t.Fatalf("editing title leaked into other fields")
	}
	if err := c.BeginEdit(domain.FieldDescription); err != nil {
		t.Fatal(err)
	}
	c.CancelEdit(domain.FieldTitle)
	if !c.Editing(domain.FieldDescription) {
		t.Fatalf("cancelling title dropped description session")
	}
}

func TestCommitEditAppliesOptimistically(t *testing.T) {
	f := newFakeRemote()
	f.gate = make(chan struct{})
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.CommitEdit(domain.FieldTitle, "New title"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// remote has not confirmed yet
	if got := c.Snapshot().Title; got != "New title" {
		t.Fatalf("expected optimistic title, got %q", got)
	}
	close(f.gate)
	c.Drain()
	if got := c.Snapshot().Title; got != "New title" {
		t.Fatalf("expected confirmed title, got %q", got)
	}
}

func TestStatusCommitsUseStatusEndpoint(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.CommitEdit(domain.FieldStatus, domain.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	calls := f.calls()
	if len(calls) != 1 || calls[0] != "setStatus in_progress" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestInvalidEnumRejectedBeforeNetwork(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.CommitEdit(domain.FieldPriority, "severe"); !errors.Is(err, session.ErrValidationRejected) {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	if err := c.CommitEdit(domain.FieldStatus, "done"); !errors.Is(err, session.ErrValidationRejected) {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	c.Drain()
	if calls := f.calls(); len(calls) != 0 {
		t.Fatalf("expected no calls, got %v", calls)
	}
}

func TestStaleResponseSuppressed(t *testing.T) {
	f := newFakeRemote()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 4)
	c := newSession(t, f, baseTask(), session.Callbacks{})

	if err := c.CommitEdit(domain.FieldTitle, "first"); err != nil {
		t.Fatal(err)
	}
	<-f.entered // worker is inside the first call
	if err := c.CommitEdit(domain.FieldTitle, "second"); err != nil {
		t.Fatal(err)
	}
	f.gate <- struct{}{} // release first confirmation (now stale)
	<-f.entered          // worker moved on to the second call
	if got := c.Snapshot().Title; got != "second" {
		t.Fatalf("stale confirmation overwrote local state: %q", got)
	}
	f.gate <- struct{}{}
	c.Drain()
	if got := c.Snapshot().Title; got != "second" {
		t.Fatalf("expected last committed value to win, got %q", got)
	}
}

func TestSyncFailureKeepsOptimisticState(t *testing.T) {
	f := newFakeRemote()
	f.fail["updateField"] = errors.New("boom")
	var mu sync.Mutex
	var failed []string
	c := newSession(t, f, baseTask(), session.Callbacks{
		OnSyncError: func(op string, err error) {
			mu.Lock()
			failed = append(failed, op)
			mu.Unlock()
		},
	})
	if err := c.CommitEdit(domain.FieldTitle, "kept anyway"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	if got := c.Snapshot().Title; got != "kept anyway" {
		t.Fatalf("optimistic state rolled back: %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "update_title" {
		t.Fatalf("expected one sync error for update_title, got %v", failed)
	}
}

func TestAddSubtaskAssignsImmediateIDAndReconciles(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	id, err := c.AddSubtask("  write docs  ")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == "" {
		t.Fatalf("expected immediate id")
	}
	snap := c.Snapshot()
	if len(snap.Subtasks) != 1 || snap.Subtasks[0].ID != id || snap.Subtasks[0].Title != "write docs" {
		t.Fatalf("unexpected optimistic subtasks %+v", snap.Subtasks)
	}
	c.Drain()
	snap = c.Snapshot()
	if len(snap.Subtasks) != 1 || snap.Subtasks[0].ID != "srv-1" {
		t.Fatalf("expected reconciled server id, got %+v", snap.Subtasks)
	}
	// later mutations must address the server id
	if err := c.ToggleSubtask("srv-1"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	calls := f.calls()
	if calls[len(calls)-1] != "updateSubtask srv-1" {
		t.Fatalf("expected update against server id, got %v", calls)
	}
}

func TestTempIDTranslatedWhenMappingLands(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	id, err := c.AddSubtask("item")
	if err != nil {
		t.Fatal(err)
	}
	c.Drain()
	// address by the old temp id: the mapping table resolves it even
	// though the snapshot now carries the server id
	if err := c.ToggleSubtask(id); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if len(snap.Subtasks) != 1 || !snap.Subtasks[0].Completed {
		t.Fatalf("toggle by temp id must hit the reconciled item, got %+v", snap.Subtasks)
	}
	c.Drain()
	calls := f.calls()
	if calls[len(calls)-1] != "updateSubtask srv-1" {
		t.Fatalf("expected temp id mapped to server id, got %v", calls)
	}
}

func TestTempIDAddressesAllCollectionsAfterReconcile(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	stID, err := c.AddSubtask("item")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.OpenNewComment(); err != nil {
		t.Fatal(err)
	}
	cmID, err := c.CommitComment("first draft")
	if err != nil {
		t.Fatal(err)
	}
	c.Drain()

	if err := c.CommitRename(stID, "renamed"); err != nil {
		t.Fatal(err)
	}
	if err := c.OpenCommentEdit(cmID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CommitComment("second draft"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSubtask(stID); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveComment(cmID, true); err != nil {
		t.Fatal(err)
	}
	c.Drain()

	snap := c.Snapshot()
	if len(snap.Subtasks) != 0 || len(snap.Comments) != 0 {
		t.Fatalf("temp-id removals must hit the reconciled items, got %+v / %+v", snap.Subtasks, snap.Comments)
	}
	want := []string{"updateSubtask srv-1", "updateComment srv-2", "deleteSubtask srv-1", "deleteComment srv-2"}
	calls := f.calls()
	got := calls[len(calls)-len(want):]
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("expected %v against server ids, got %v", want, got)
		}
	}
}

func TestBlankAndMissingCollectionInputs(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if _, err := c.AddSubtask("   "); !errors.Is(err, session.ErrValidationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := c.RemoveSubtask("missing"); err != nil {
		t.Fatalf("remove of absent id must be a no-op, got %v", err)
	}
	if err := c.ToggleSubtask("missing"); err != nil {
		t.Fatalf("toggle of absent id must be a no-op, got %v", err)
	}
	c.Drain()
	if calls := f.calls(); len(calls) != 0 {
		t.Fatalf("no-ops must not reach the remote: %v", calls)
	}
}

func TestProgressDerivation(t *testing.T) {
	task := baseTask()
	task.Subtasks = []domain.Subtask{
		{ID: "s1", Title: "a", Completed: true},
		{ID: "s2", Title: "b"},
		{ID: "s3", Title: "c"},
		{ID: "s4", Title: "d"},
	}
	f := newFakeRemote()
	c := newSession(t, f, task, session.Callbacks{})
	if got := c.Snapshot().Progress; got != 25 {
		t.Fatalf("expected 25%%, got %d", got)
	}
	if err := c.ToggleSubtask("s2"); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().Progress; got != 50 {
		t.Fatalf("expected 50%% after second completion, got %d", got)
	}
	if err := c.RemoveSubtask("s1"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSubtask("s2"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSubtask("s3"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSubtask("s4"); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().Progress; got != 0 {
		t.Fatalf("expected 0%% for empty checklist, got %d", got)
	}
	c.Drain()
}

func TestAssigneeToggleRoundTrip(t *testing.T) {
	f := newFakeRemote()
	task := baseTask()
	task.AssigneeIDs = []string{"m1"}
	c := newSession(t, f, task, session.Callbacks{})
	if err := c.ToggleAssignee("m2"); err != nil {
		t.Fatal(err)
	}
	if err := c.ToggleAssignee("m2"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	calls := f.calls()
	if len(calls) != 2 {
		t.Fatalf("expected two full-set calls, got %v", calls)
	}
	if calls[0] != "replaceAssignees [m1 m2]" || calls[1] != "replaceAssignees [m1]" {
		t.Fatalf("each call must carry the complete set: %v", calls)
	}
	snap := c.Snapshot()
	if len(snap.AssigneeIDs) != 1 || snap.AssigneeIDs[0] != "m1" {
		t.Fatalf("double toggle must restore membership, got %v", snap.AssigneeIDs)
	}
}

func TestUnknownMemberRejected(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.ToggleAssignee("ghost"); !errors.Is(err, session.ErrValidationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestDuplicateTagRejectedLocally(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.AddTag("urgent"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddTag("urgent"); !errors.Is(err, session.ErrValidationRejected) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	c.Drain()
	snap := c.Snapshot()
	if len(snap.Tags) != 1 || snap.Tags[0] != "urgent" {
		t.Fatalf("expected exactly one urgent tag, got %v", snap.Tags)
	}
	if calls := f.calls(); len(calls) != 1 {
		t.Fatalf("duplicate add must not issue an intent: %v", calls)
	}
	// case-sensitive: a different casing is a different tag
	if err := c.AddTag("Urgent"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	if got := c.Snapshot().Tags; len(got) != 2 {
		t.Fatalf("expected case-sensitive match, got %v", got)
	}
}

func TestRemoveAbsentTagIsSilent(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.RemoveTag("nope"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	if calls := f.calls(); len(calls) != 0 {
		t.Fatalf("expected no calls, got %v", calls)
	}
}

func TestCommentComposeSingleBuffer(t *testing.T) {
	f := newFakeRemote()
	task := baseTask()
	task.Comments = []domain.Comment{
		{ID: "c1", Content: "first", AuthorID: "m1", CreatedAt: "2024-04-01T00:00:00Z"},
		{ID: "c2", Content: "second", AuthorID: "m2", CreatedAt: "2024-04-02T00:00:00Z"},
	}
	c := newSession(t, f, task, session.Callbacks{})
	if err := c.OpenCommentEdit("c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.OpenCommentEdit("c2"); err != nil {
		t.Fatal(err)
	}
	target := c.Compose()
	if target.Kind != session.ComposeEditing || target.CommentID != "c2" {
		t.Fatalf("expected single buffer pointing at c2, got %+v", target)
	}
	if _, err := c.CommitComment("second, edited"); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	snap := c.Snapshot()
	if snap.Comments[0].Content != "first" || snap.Comments[1].Content != "second, edited" {
		t.Fatalf("edit leaked across comments: %+v", snap.Comments)
	}
	if c.Compose().Kind != session.ComposeNone {
		t.Fatalf("compose box must reset after commit")
	}
}

func TestNewCommentLifecycle(t *testing.T) {
	f := newFakeRemote()
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.OpenNewComment(); err != nil {
		t.Fatal(err)
	}
	id, err := c.CommitComment("hello")
	if err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if len(snap.Comments) != 1 || snap.Comments[0].ID != id {
		t.Fatalf("expected immediate optimistic comment, got %+v", snap.Comments)
	}
	c.Drain()
	snap = c.Snapshot()
	if snap.Comments[0].ID != "srv-1" {
		t.Fatalf("expected reconciled comment id, got %+v", snap.Comments)
	}
}

func TestRemoveCommentRequiresConfirmation(t *testing.T) {
	f := newFakeRemote()
	task := baseTask()
	task.Comments = []domain.Comment{{ID: "c1", Content: "bye", AuthorID: "m1", CreatedAt: "2024-04-01T00:00:00Z"}}
	c := newSession(t, f, task, session.Callbacks{})
	if err := c.RemoveComment("c1", false); !errors.Is(err, session.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation gate, got %v", err)
	}
	if err := c.RemoveComment("c1", true); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	if got := c.Snapshot().Comments; len(got) != 0 {
		t.Fatalf("expected comment removed, got %+v", got)
	}
}

func TestUploadBatchIsOneIntent(t *testing.T) {
	f := newFakeRemote()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 1)
	c := newSession(t, f, baseTask(), session.Callbacks{})
	ids, err := c.UploadAttachments([]remote.File{
		{Name: "spec.pdf", Size: 1200, MimeType: "application/pdf"},
		{Name: "logo.png", Size: 800, MimeType: "image/png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected two staged ids, got %v", ids)
	}
	<-f.entered // batch handed to the authority, not yet confirmed
	snap := c.Snapshot()
	if len(snap.Attachments) != 2 {
		t.Fatalf("expected two entries before confirmation, got %+v", snap.Attachments)
	}
	for _, a := range snap.Attachments {
		if a.State != domain.AttachmentSubmitted {
			t.Fatalf("expected submitted entries while in flight, got %+v", a)
		}
	}
	close(f.gate)
	c.Drain()
	calls := f.calls()
	if len(calls) != 1 || calls[0] != "uploadAttachments [spec.pdf logo.png]" {
		t.Fatalf("expected exactly one batch call, got %v", calls)
	}
	snap = c.Snapshot()
	for _, a := range snap.Attachments {
		if a.State != domain.AttachmentConfirmed {
			t.Fatalf("expected confirmed entries, got %+v", a)
		}
		if a.ID != "srv-1" && a.ID != "srv-2" {
			t.Fatalf("expected server ids, got %+v", a)
		}
	}
}

func TestUploadFailureKeepsPendingEntries(t *testing.T) {
	f := newFakeRemote()
	f.fail["uploadAttachments"] = errors.New("disk full")
	errs := make(chan string, 1)
	c := newSession(t, f, baseTask(), session.Callbacks{
		OnSyncError: func(op string, err error) { errs <- op },
	})
	if _, err := c.UploadAttachments([]remote.File{{Name: "a.txt", Size: 1}}); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	snap := c.Snapshot()
	if len(snap.Attachments) != 1 || snap.Attachments[0].State != domain.AttachmentPending {
		t.Fatalf("failed upload must keep pending entry, got %+v", snap.Attachments)
	}
	if op := <-errs; op != "upload_attachments" {
		t.Fatalf("unexpected error op %s", op)
	}
}

func TestArchiveClosesSession(t *testing.T) {
	f := newFakeRemote()
	closed := make(chan struct{}, 1)
	c := newSession(t, f, baseTask(), session.Callbacks{
		OnEntityClosed: func() { closed <- struct{}{} },
	})
	if err := c.Archive(false); !errors.Is(err, session.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation gate, got %v", err)
	}
	if err := c.Archive(true); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	select {
	case <-closed:
	default:
		t.Fatalf("expected OnEntityClosed after confirmation")
	}
	if err := c.AddTag("late"); !errors.Is(err, session.ErrTaskClosed) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
	if _, err := c.AddSubtask("late"); !errors.Is(err, session.ErrTaskClosed) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
}

func TestDeleteClosesSession(t *testing.T) {
	f := newFakeRemote()
	closed := make(chan struct{}, 1)
	c := newSession(t, f, baseTask(), session.Callbacks{
		OnEntityClosed: func() { closed <- struct{}{} },
	})
	if err := c.Delete(true); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	select {
	case <-closed:
	default:
		t.Fatalf("expected OnEntityClosed after delete confirmation")
	}
	calls := f.calls()
	if len(calls) != 1 || calls[0] != "deleteTask task-1" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestResetDropsInFlightConfirmations(t *testing.T) {
	f := newFakeRemote()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 2)
	c := newSession(t, f, baseTask(), session.Callbacks{})
	if err := c.CommitEdit(domain.FieldTitle, "old entity edit"); err != nil {
		t.Fatal(err)
	}
	<-f.entered
	next := domain.Task{ID: "task-2", Title: "Another task", Priority: domain.PriorityLow, Status: domain.StatusTodo}
	c.Reset(next, roster())
	close(f.gate)
	c.Drain()
	snap := c.Snapshot()
	if snap.ID != "task-2" || snap.Title != "Another task" {
		t.Fatalf("confirmation from previous entity leaked in: %+v", snap)
	}
	if c.Editing(domain.FieldTitle) {
		t.Fatalf("edit sessions must not survive an entity swap")
	}
}

func TestSnapshotChangedCallback(t *testing.T) {
	f := newFakeRemote()
	var mu sync.Mutex
	count := 0
	c := newSession(t, f, baseTask(), session.Callbacks{
		OnSnapshotChanged: func(domain.Task) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})
	if err := c.TogglePin(); err != nil {
		t.Fatal(err)
	}
	c.Drain()
	mu.Lock()
	defer mu.Unlock()
	if count < 2 {
		t.Fatalf("expected optimistic and confirmed notifications, got %d", count)
	}
}
