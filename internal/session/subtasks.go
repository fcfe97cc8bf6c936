package session

import (
	"context"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/remote"
)

// AddSubtask appends a checklist item optimistically under a
// session-local id and returns that id. The id is reconciled against
// the authority's id when the create confirms, preserving position.
func (c *Coordinator) AddSubtask(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", rejectf("empty subtask title")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrTaskClosed
	}
	tempID := c.alloc.Next()
	c.task.Subtasks = c.subtasks.Add(c.task.Subtasks, domain.Subtask{ID: tempID, Title: title})
	c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
	taskID := c.task.ID
	it := c.dispatch("create_subtask", syncKey{kind: "subtask.create", id: tempID}, func(ctx context.Context) (func(*Coordinator), error) {
		st, err := c.svc.CreateSubtask(ctx, taskID, title)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			if next, ok := c.subtasks.Replace(c.task.Subtasks, tempID, st); ok {
				c.task.Subtasks = next
				c.idMap[tempID] = st.ID
				c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
			}
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return tempID, nil
}

// ToggleSubtask flips a checklist item's completed flag and
// recomputes derived progress. An unknown id is a no-op.
func (c *Coordinator) ToggleSubtask(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	next, ok := c.subtasks.Patch(c.task.Subtasks, id, func(s *domain.Subtask) {
		s.Completed = !s.Completed
	})
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.task.Subtasks = next
	c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
	st, _ := c.subtasks.Get(c.task.Subtasks, id)
	completed := st.Completed
	taskID := c.task.ID
	it := c.dispatch("toggle_subtask", syncKey{kind: "subtask", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.UpdateSubtask(ctx, taskID, c.resolveID(id), remote.SubtaskPatch{Completed: &completed})
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			if next, ok := c.subtasks.Patch(c.task.Subtasks, id, func(s *domain.Subtask) {
				s.Completed = resp.Completed
			}); ok {
				c.task.Subtasks = next
				c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
			}
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// BeginRename opens the single rename session for a checklist item.
// Opening another item moves the session; there is one rename buffer.
func (c *Coordinator) BeginRename(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	if _, ok := c.subtasks.Get(c.task.Subtasks, id); !ok {
		return rejectf("subtask %s not found", id)
	}
	c.renameTarget = id
	return nil
}

// CancelRename drops the rename session without changes.
func (c *Coordinator) CancelRename() {
	c.mu.Lock()
	c.renameTarget = ""
	c.mu.Unlock()
}

// RenameTarget returns the id of the checklist item being renamed,
// or "".
func (c *Coordinator) RenameTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renameTarget
}

// CommitRename retitles a checklist item and issues one update.
func (c *Coordinator) CommitRename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return rejectf("empty subtask title")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	next, ok := c.subtasks.Patch(c.task.Subtasks, id, func(s *domain.Subtask) {
		s.Title = title
	})
	if !ok {
		c.renameTarget = ""
		c.mu.Unlock()
		return nil
	}
	c.task.Subtasks = next
	c.renameTarget = ""
	taskID := c.task.ID
	it := c.dispatch("rename_subtask", syncKey{kind: "subtask", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.UpdateSubtask(ctx, taskID, c.resolveID(id), remote.SubtaskPatch{Title: &title})
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			if next, ok := c.subtasks.Patch(c.task.Subtasks, id, func(s *domain.Subtask) {
				s.Title = resp.Title
			}); ok {
				c.task.Subtasks = next
			}
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}

// RemoveSubtask deletes a checklist item locally and remotely.
// Removing an absent id is a no-op.
func (c *Coordinator) RemoveSubtask(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	next, ok := c.subtasks.Remove(c.task.Subtasks, id)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.task.Subtasks = next
	c.task.Progress = domain.ComputeProgress(c.task.Subtasks)
	if c.renameTarget == id {
		c.renameTarget = ""
	}
	taskID := c.task.ID
	it := c.dispatch("delete_subtask", syncKey{kind: "subtask", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
		if err := c.svc.DeleteSubtask(ctx, taskID, c.resolveID(id)); err != nil {
			return nil, err
		}
		return nil, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return nil
}
