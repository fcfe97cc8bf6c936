package session

import (
	"context"
	"strings"

	"taskdesk/internal/domain"
)

// ComposeKind tags the state of the single shared comment compose
// box: writing a new comment, editing an existing one, or idle.
type ComposeKind int

const (
	ComposeNone ComposeKind = iota
	ComposeNew
	ComposeEditing
)

// ComposeTarget is the one compose buffer for the whole comment
// collection. At most one comment is ever in edit mode; opening a
// different target replaces the previous one.
type ComposeTarget struct {
	Kind      ComposeKind
	CommentID string
}

// Compose returns the current compose target.
func (c *Coordinator) Compose() ComposeTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compose
}

// OpenNewComment points the compose box at a fresh comment.
func (c *Coordinator) OpenNewComment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTaskClosed
	}
	c.compose = ComposeTarget{Kind: ComposeNew}
	return nil
}

// OpenCommentEdit points the compose box at an existing comment. The
// caller prefills the buffer from the snapshot's content.
func (c *Coordinator) OpenCommentEdit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	if _, ok := c.comments.Get(c.task.Comments, id); !ok {
		return rejectf("comment %s not found", id)
	}
	c.compose = ComposeTarget{Kind: ComposeEditing, CommentID: id}
	return nil
}

// CancelCompose resets the compose box without changes.
func (c *Coordinator) CancelCompose() {
	c.mu.Lock()
	c.compose = ComposeTarget{}
	c.mu.Unlock()
}

// CommitComment submits the compose buffer: an update when the box
// targets an existing comment, otherwise a create under a
// session-local id. Blank content is rejected locally.
func (c *Coordinator) CommitComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", rejectf("empty comment")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrTaskClosed
	}
	target := c.compose
	c.compose = ComposeTarget{}
	taskID := c.task.ID

	if target.Kind == ComposeEditing {
		id := c.canonicalID(target.CommentID)
		now := c.now()
		next, ok := c.comments.Patch(c.task.Comments, id, func(cm *domain.Comment) {
			cm.Content = content
			cm.UpdatedAt = &now
		})
		if !ok {
			c.mu.Unlock()
			return "", nil
		}
		c.task.Comments = next
		it := c.dispatch("update_comment", syncKey{kind: "comment", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
			resp, err := c.svc.UpdateComment(ctx, taskID, c.resolveID(id), content)
			if err != nil {
				return nil, err
			}
			return func(c *Coordinator) {
				if next, ok := c.comments.Patch(c.task.Comments, id, func(cm *domain.Comment) {
					cm.Content = resp.Content
					cm.UpdatedAt = resp.UpdatedAt
				}); ok {
					c.task.Comments = next
				}
			}, nil
		}, nil)
		snap := c.task.Clone()
		c.mu.Unlock()
		c.notify(snap)
		c.send(it)
		return id, nil
	}

	tempID := c.alloc.Next()
	c.task.Comments = c.comments.Add(c.task.Comments, domain.Comment{
		ID:        tempID,
		Content:   content,
		AuthorID:  c.actorID,
		CreatedAt: c.now(),
	})
	it := c.dispatch("create_comment", syncKey{kind: "comment.create", id: tempID}, func(ctx context.Context) (func(*Coordinator), error) {
		cm, err := c.svc.CreateComment(ctx, taskID, content)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			if next, ok := c.comments.Replace(c.task.Comments, tempID, cm); ok {
				c.task.Comments = next
				c.idMap[tempID] = cm.ID
			}
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return tempID, nil
}

// RemoveComment deletes a comment. Destructive: requires
// confirmed=true. Removing an absent id is a no-op.
func (c *Coordinator) RemoveComment(id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	next, ok := c.comments.Remove(c.task.Comments, id)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.task.Comments = next
	if c.compose.Kind == ComposeEditing && c.compose.CommentID == id {
		c.compose = ComposeTarget{}
	}
	taskID := c.task.ID
	it := c.dispatch("delete_comment", syncKey{kind: "comment", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
		if err := c.svc.DeleteComment(ctx, taskID, c.resolveID(id)); err != nil {
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
