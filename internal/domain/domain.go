package domain

// Priority levels a task can carry.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task statuses. Archived is terminal.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusArchived   = "archived"
)

// Editable scalar fields of a task.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPriority    = "priority"
	FieldStatus      = "status"
	FieldDueDate     = "due_date"
)

// Attachment upload states as seen by the editing client.
const (
	AttachmentPending   = "pending"
	AttachmentSubmitted = "submitted"
	AttachmentConfirmed = "confirmed"
	AttachmentFailed    = "failed"
)

type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    string       `json:"priority" enum:"low,medium,high,urgent"`
	Status      string       `json:"status" enum:"todo,in_progress,review,completed,archived"`
	IsPinned    bool         `json:"is_pinned"`
	Progress    int          `json:"progress"`
	DueDate     *string      `json:"due_date,omitempty" format:"date"`
	AssigneeIDs []string     `json:"assignee_ids"`
	Subtasks    []Subtask    `json:"subtasks"`
	Tags        []string     `json:"tags"`
	Attachments []Attachment `json:"attachments"`
	Comments    []Comment    `json:"comments"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
}

type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type Comment struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	AuthorID  string  `json:"author_id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt *string `json:"updated_at,omitempty" format:"date-time"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	MimeType    string `json:"mime_type,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
	UploadedAt  string `json:"uploaded_at,omitempty" format:"date-time"`
	State       string `json:"state,omitempty" enum:"pending,submitted,confirmed,failed"`
}

// TeamMember is a roster entry. The engine never creates or removes
// members, only the task's membership edges.
type TeamMember struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// ValidField reports whether f is an editable scalar field.
func ValidField(f string) bool {
	switch f {
	case FieldTitle, FieldDescription, FieldPriority, FieldStatus, FieldDueDate:
		return true
	}
	return false
}

// ComputeProgress derives the completion percentage from subtasks.
// It is recomputed on every subtask change, never stored as input.
func ComputeProgress(subtasks []Subtask) int {
	if len(subtasks) == 0 {
		return 0
	}
	completed := 0
	for _, s := range subtasks {
		if s.Completed {
			completed++
		}
	}
	return int(float64(completed)/float64(len(subtasks))*100 + 0.5)
}

// Clone returns a deep copy so optimistic edits never alias the
// caller's slices.
func (t Task) Clone() Task {
	c := t
	c.AssigneeIDs = append([]string(nil), t.AssigneeIDs...)
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	c.Tags = append([]string(nil), t.Tags...)
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	c.Comments = append([]Comment(nil), t.Comments...)
	return c
}
