package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskdesk/internal/domain"
	"taskdesk/internal/remote"
)

// Callbacks are how the presentation layer observes the session.
type Callbacks struct {
	OnSnapshotChanged func(domain.Task)
	OnSyncError       func(op string, err error)
	OnEntityClosed    func()
}

// syncKey identifies the field or item an outbound intent targets.
// Sequence numbers are tracked per key so a later edit supersedes an
// earlier in-flight one without touching unrelated keys.
type syncKey struct {
	kind string
	id   string
}

type intent struct {
	gen  uint64
	seq  uint64
	key  syncKey
	op   string
	call func(ctx context.Context) (confirm func(*Coordinator), err error)
	fail func(*Coordinator)
}

// Coordinator owns the canonical local snapshot of one task and
// drives the optimistic edit/sync protocol: every mutation applies to
// the snapshot synchronously, then exactly one intent is queued for
// the authority. Confirmations reconcile ids and fields; superseded
// confirmations are dropped by sequence number.
type Coordinator struct {
	svc remote.Service
	log *logrus.Logger
	cb  Callbacks

	// Now is swappable for tests.
	Now func() time.Time

	actorID string

	mu           sync.Mutex
	task         domain.Task
	roster       []domain.TeamMember
	gen          uint64
	seqs         map[syncKey]uint64
	alloc        localIDAllocator
	idMap        map[string]string
	fields       *FieldEditSession
	compose      ComposeTarget
	renameTarget string
	closed       bool

	queue     chan intent
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	subtasks    CollectionEditor[domain.Subtask]
	comments    CollectionEditor[domain.Comment]
	attachments CollectionEditor[domain.Attachment]
}

// New builds a coordinator over one task entity. roster is the
// immutable team-member list supplied at session start.
func New(svc remote.Service, task domain.Task, roster []domain.TeamMember, cb Callbacks, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Coordinator{
		svc:         svc,
		log:         log,
		cb:          cb,
		Now:         time.Now,
		actorID:     "local-user",
		roster:      append([]domain.TeamMember(nil), roster...),
		seqs:        map[syncKey]uint64{},
		idMap:       map[string]string{},
		fields:      newFieldEditSession(),
		queue:       make(chan intent, 64),
		done:        make(chan struct{}),
		subtasks:    newCollectionEditor(func(s domain.Subtask) string { return s.ID }),
		comments:    newCollectionEditor(func(cm domain.Comment) string { return cm.ID }),
		attachments: newCollectionEditor(func(a domain.Attachment) string { return a.ID }),
	}
	c.task = task.Clone()
	c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
	go c.worker()
	return c
}

// SetActor sets the id recorded as author on optimistic comments and
// attachments.
func (c *Coordinator) SetActor(actorID string) {
	c.mu.Lock()
	c.actorID = actorID
	c.mu.Unlock()
}

// Snapshot returns a copy of the canonical local task state.
func (c *Coordinator) Snapshot() domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task.Clone()
}

// Roster returns the team-member list supplied at session start.
func (c *Coordinator) Roster() []domain.TeamMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TeamMember(nil), c.roster...)
}

// Closed reports whether the task reached a terminal state.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Reset swaps the session to a different task entity. All edit
// sessions, sequence counters and id mappings are discarded; late
// confirmations from the previous entity are dropped by generation.
func (c *Coordinator) Reset(task domain.Task, roster []domain.TeamMember) {
	c.mu.Lock()
	c.gen++
	c.task = task.Clone()
	c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
	c.roster = append([]domain.TeamMember(nil), roster...)
	c.seqs = map[syncKey]uint64{}
	c.idMap = map[string]string{}
	c.fields.reset()
	c.compose = ComposeTarget{}
	c.renameTarget = ""
	c.closed = false
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
}

// Drain blocks until every queued intent has been confirmed or
// rejected. Meant for CLI callers and tests; an interactive surface
// relies on callbacks instead.
func (c *Coordinator) Drain() {
	c.wg.Wait()
}

// Close stops the worker. Queued intents are drained first.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.queue)
		<-c.done
	})
}

func (c *Coordinator) worker() {
	defer close(c.done)
	for it := range c.queue {
		confirm, err := it.call(context.Background())
		c.finish(it, confirm, err)
		c.wg.Done()
	}
}

// finish applies one completion event. Stale confirmations (a newer
// intent was issued for the same key, or the entity was swapped) are
// suppressed here; that suppression is internal, never surfaced as an
// error.
func (c *Coordinator) finish(it intent, confirm func(*Coordinator), err error) {
	c.mu.Lock()
	if it.gen != c.gen {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"op": it.op}).Debug("dropping confirmation from previous entity")
		return
	}
	if c.seqs[it.key] != it.seq {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"op": it.op, "seq": it.seq}).Debug("stale response ignored")
		return
	}
	if err != nil {
		if it.fail != nil {
			it.fail(c)
		}
		snap := c.task.Clone()
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"op": it.op}).WithError(err).Warn("sync failed; optimistic state kept")
		if c.cb.OnSyncError != nil {
			c.cb.OnSyncError(it.op, &SyncError{Op: it.op, Err: err})
		}
		if it.fail != nil {
			c.notify(snap)
		}
		return
	}
	var closedNow bool
	if confirm != nil {
		confirm(c)
		closedNow = c.closed
	}
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	if closedNow && c.cb.OnEntityClosed != nil {
		c.cb.OnEntityClosed()
	}
}

// dispatch allocates the next sequence number for key and returns the
// intent to enqueue. Must be called with the mutex held.
func (c *Coordinator) dispatch(op string, key syncKey, call func(ctx context.Context) (func(*Coordinator), error), fail func(*Coordinator)) intent {
	c.seqs[key]++
	return intent{
		gen:  c.gen,
		seq:  c.seqs[key],
		key:  key,
		op:   op,
		call: call,
		fail: fail,
	}
}

// send enqueues an intent built by dispatch. Must be called after the
// mutex is released.
func (c *Coordinator) send(it intent) {
	c.wg.Add(1)
	c.queue <- it
}

func (c *Coordinator) notify(snap domain.Task) {
	if c.cb.OnSnapshotChanged != nil {
		c.cb.OnSnapshotChanged(snap)
	}
}

// resolveID translates a session-local id to the authority's id once
// the creating intent has been confirmed. Unconfirmed temp ids pass
// through unchanged.
func (c *Coordinator) resolveID(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canonicalID(id)
}

// canonicalID is the lock-held counterpart of resolveID. Once a
// create reconciles, the snapshot holds the authority's id, so by-id
// mutations map their argument before the collection lookup or a
// stale temp id would silently miss. Must be called with the mutex
// held.
func (c *Coordinator) canonicalID(id string) string {
	if server, ok := c.idMap[id]; ok {
		return server
	}
	return id
}

func (c *Coordinator) now() string {
	return c.Now().UTC().Format(time.RFC3339)
}

// --- scalar field edit sessions ---

// BeginEdit opens edit mode for one scalar field. Other fields'
// modes are untouched.
func (c *Coordinator) BeginEdit(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTaskClosed
	}
	if !domain.ValidField(field) {
		return rejectf("unknown field %s", field)
	}
	c.fields.begin(field)
	return nil
}

// CancelEdit exits edit mode without touching the snapshot.
func (c *Coordinator) CancelEdit(field string) {
	c.mu.Lock()
	c.fields.cancel(field)
	c.mu.Unlock()
}

// Editing reports whether field is in edit mode.
func (c *Coordinator) Editing(field string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields.Editing(field)
}

// CommitEdit applies a new field value optimistically and issues one
// update intent. Committing the current value is a pure local no-op:
// edit mode exits and no network call happens.
func (c *Coordinator) CommitEdit(field, value string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	if !domain.ValidField(field) {
		c.mu.Unlock()
		return rejectf("unknown field %s", field)
	}
	switch field {
	case domain.FieldPriority:
		if !domain.ValidPriority(value) {
			c.mu.Unlock()
			return rejectf("unknown priority %s", value)
		}
	case domain.FieldStatus:
		if !domain.ValidStatus(value) {
			c.mu.Unlock()
			return rejectf("unknown status %s", value)
		}
	}
	if fieldValue(c.task, field) == value {
		c.fields.cancel(field)
		c.mu.Unlock()
		return nil
	}
	setField(&c.task, field, value)
	c.fields.cancel(field)
	taskID := c.task.ID
	it := c.dispatch("update_"+field, syncKey{kind: "field", id: field}, func(ctx context.Context) (func(*Coordinator), error) {
		var (
			resp domain.Task
			err  error
		)
		if field == domain.FieldStatus {
			resp, err = c.svc.SetStatus(ctx, taskID, value)
		} else {
			resp, err = c.svc.UpdateField(ctx, taskID, field, value)
		}
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			setField(&c.task, field, fieldValue(resp, field))
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// --- pin toggle ---

// TogglePin flips the pinned flag and issues one update carrying the
// new value.
func (c *Coordinator) TogglePin() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	c.task.IsPinned = !c.task.IsPinned
	pinned := c.task.IsPinned
	taskID := c.task.ID
	it := c.dispatch("toggle_pin", syncKey{kind: "pin"}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.SetPinned(ctx, taskID, pinned)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) { c.task.IsPinned = resp.IsPinned }, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// --- assignee membership ---

// ToggleAssignee flips one member's membership. The intent carries
// the complete resulting set; the authority's contract is "set, not
// patch".
func (c *Coordinator) ToggleAssignee(memberID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	known := false
	for _, m := range c.roster {
		if m.ID == memberID {
			known = true
			break
		}
	}
	if !known {
		c.mu.Unlock()
		return rejectf("member %s not on roster", memberID)
	}
	c.task.AssigneeIDs = toggleMember(c.task.AssigneeIDs, memberID)
	full := append([]string(nil), c.task.AssigneeIDs...)
	taskID := c.task.ID
	it := c.dispatch("replace_assignees", syncKey{kind: "assignees"}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.ReplaceAssignees(ctx, taskID, full)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			c.task.AssigneeIDs = append([]string(nil), resp.AssigneeIDs...)
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// --- terminal transitions ---

// Archive moves the task to archived. Destructive: the caller must
// pass confirmed=true after an explicit user confirmation. Once the
// authority confirms, the session closes and rejects further intents.
func (c *Coordinator) Archive(confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	c.task.Status = domain.StatusArchived
	taskID := c.task.ID
	it := c.dispatch("archive", syncKey{kind: "field", id: domain.FieldStatus}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.SetStatus(ctx, taskID, domain.StatusArchived)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			c.task.Status = resp.Status
			c.closed = true
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// Delete removes the task at the authority. Destructive; requires
// confirmed=true. On confirmation the session closes.
func (c *Coordinator) Delete(confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	taskID := c.task.ID
	it := c.dispatch("delete_task", syncKey{kind: "task", id: "delete"}, func(ctx context.Context) (func(*Coordinator), error) {
		if err := c.svc.DeleteTask(ctx, taskID); err != nil {
			return nil, err
		}
		return func(c *Coordinator) { c.closed = true }, nil
	}, nil)
	c.mu.Unlock()
	c.send(it)
	return nil
}

// --- field helpers ---

func fieldValue(t domain.Task, field string) string {
	switch field {
	case domain.FieldTitle:
		return t.Title
	case domain.FieldDescription:
		return t.Description
	case domain.FieldPriority:
		return t.Priority
	case domain.FieldStatus:
		return t.Status
	case domain.FieldDueDate:
		if t.DueDate == nil {
			return ""
		}
		return *t.DueDate
	}
	return ""
}

func setField(t *domain.Task, field, value string) {
	switch field {
	case domain.FieldTitle:
		t.Title = value
	case domain.FieldDescription:
		t.Description = value
	case domain.FieldPriority:
		t.Priority = value
	case domain.FieldStatus:
		t.Status = value
	case domain.FieldDueDate:
		if value == "" {
			t.DueDate = nil
		} else {
			v := value
			t.DueDate = &v
		}
	}
}
