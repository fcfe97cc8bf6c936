package session

import (
	"context"
	"strings"
)

// AddTag appends a tag. Input is trimmed; blank and already-present
// values are rejected before any network call (case-sensitive exact
// match). The intent carries the whole resulting tag set.
func (c *Coordinator) AddTag(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return rejectf("empty tag")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	for _, t := range c.task.Tags {
		if t == tag {
			c.mu.Unlock()
			return rejectf("duplicate tag %q", tag)
		}
	}
	c.task.Tags = append(append([]string(nil), c.task.Tags...), tag)
	c.sendTagSet()
	return nil
}

// RemoveTag removes a tag by exact string equality. An absent tag is
// a silent no-op.
func (c *Coordinator) RemoveTag(tag string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	idx := -1
	for i, t := range c.task.Tags {
		if t == tag {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	out := make([]string, 0, len(c.task.Tags)-1)
	out = append(out, c.task.Tags[:idx]...)
	c.task.Tags = append(out, c.task.Tags[idx+1:]...)
	c.sendTagSet()
	return nil
}

// sendTagSet dispatches the full current tag set. Must be called with
// the mutex held; it releases it.
func (c *Coordinator) sendTagSet() {
	full := append([]string(nil), c.task.Tags...)
	taskID := c.task.ID
	it := c.dispatch("replace_tags", syncKey{kind: "tags"}, func(ctx context.Context) (func(*Coordinator), error) {
		resp, err := c.svc.ReplaceTags(ctx, taskID, full)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			c.task.Tags = append([]string(nil), resp.Tags...)
		}, nil
	}, nil)
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
}
