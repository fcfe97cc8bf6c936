package session

import (
	"context"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/remote"
)

// UploadAttachments stages a batch of files: every file appears in
// the snapshot immediately as a pending entry with a local preview
// handle, and the whole batch travels as one upload intent. On
// confirmation each pending entry is paired to its authoritative
// counterpart by filename and size. A failed upload keeps the pending
// entries; a user's selected files are never silently dropped.
func (c *Coordinator) UploadAttachments(files []remote.File) ([]string, error) {
	if len(files) == 0 {
		return nil, rejectf("empty upload batch")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrTaskClosed
	}
	now := c.now()
	tempIDs := make([]string, 0, len(files))
	for _, f := range files {
		tempID := c.alloc.Next()
		tempIDs = append(tempIDs, tempID)
		c.task.Attachments = c.attachments.Add(c.task.Attachments, domain.Attachment{
			ID:          tempID,
			Name:        f.Name,
			SizeBytes:   f.Size,
			MimeType:    f.MimeType,
			StoragePath: "local://" + f.Name,
			UploadedBy:  c.actorID,
			UploadedAt:  now,
			State:       domain.AttachmentPending,
		})
	}
	batchID := c.alloc.Next()
	taskID := c.task.ID
	batch := append([]remote.File(nil), files...)
	ids := append([]string(nil), tempIDs...)
	it := c.dispatch("upload_attachments", syncKey{kind: "attachment.upload", id: batchID}, func(ctx context.Context) (func(*Coordinator), error) {
		c.markAttachments(ids, domain.AttachmentSubmitted)
		confirmed, err := c.svc.UploadAttachments(ctx, taskID, batch)
		if err != nil {
			return nil, err
		}
		return func(c *Coordinator) {
			c.pairUploads(ids, confirmed)
		}, nil
	}, func(c *Coordinator) {
		for _, id := range ids {
			if next, ok := c.attachments.Patch(c.task.Attachments, id, func(a *domain.Attachment) {
				a.State = domain.AttachmentPending
			}); ok {
				c.task.Attachments = next
			}
		}
	})
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
	c.send(it)
	return tempIDs, nil
}

// RemoveAttachment deletes an attachment locally and remotely.
// Absence is a no-op.
func (c *Coordinator) RemoveAttachment(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrTaskClosed
	}
	id = c.canonicalID(id)
	next, ok := c.attachments.Remove(c.task.Attachments, id)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.task.Attachments = next
	taskID := c.task.ID
	it := c.dispatch("delete_attachment", syncKey{kind: "attachment", id: id}, func(ctx context.Context) (func(*Coordinator), error) {
		if err := c.svc.DeleteAttachment(ctx, taskID, c.resolveID(id)); err != nil {
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

func (c *Coordinator) markAttachments(ids []string, state string) {
	c.mu.Lock()
	for _, id := range ids {
		if next, ok := c.attachments.Patch(c.task.Attachments, id, func(a *domain.Attachment) {
			a.State = state
		}); ok {
			c.task.Attachments = next
		}
	}
	snap := c.task.Clone()
	c.mu.Unlock()
	c.notify(snap)
}

// pairUploads promotes pending entries to their confirmed
// counterparts. The batch carried no server ids, so pairing is
// best-effort by original filename and size; leftovers on either side
// are kept rather than dropped. A local entry left unpaired after a
// confirmed batch has no counterpart coming, so it is marked failed.
// Must be called with the mutex held.
func (c *Coordinator) pairUploads(tempIDs []string, confirmed []domain.Attachment) {
	used := make([]bool, len(confirmed))
	for _, tempID := range tempIDs {
		local, ok := c.attachments.Get(c.task.Attachments, tempID)
		if !ok {
			continue
		}
		paired := false
		for i, srv := range confirmed {
			if used[i] {
				continue
			}
			if !sameFile(local, srv) {
				continue
			}
			srv.State = domain.AttachmentConfirmed
			if next, ok := c.attachments.Replace(c.task.Attachments, tempID, srv); ok {
				c.task.Attachments = next
				c.idMap[tempID] = srv.ID
			}
			used[i] = true
			paired = true
			break
		}
		if !paired {
			if next, ok := c.attachments.Patch(c.task.Attachments, tempID, func(a *domain.Attachment) {
				a.State = domain.AttachmentFailed
			}); ok {
				c.task.Attachments = next
			}
		}
	}
}

func sameFile(local, srv domain.Attachment) bool {
	return strings.EqualFold(local.Name, srv.Name) && local.SizeBytes == srv.SizeBytes
}
