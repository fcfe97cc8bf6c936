package server

import "taskdesk/internal/domain"

type CreateTaskRequest struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Status      string   `json:"status,omitempty" enum:"todo,in_progress,review,completed,archived"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
}

type FieldValueRequest struct {
	Value string `json:"value"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"todo,in_progress,review,completed,archived"`
}

type PinRequest struct {
	Pinned bool `json:"pinned"`
}

type AssigneesRequest struct {
	AssigneeIDs []string `json:"assignee_ids"`
}

type TagsRequest struct {
	Tags []string `json:"tags"`
}

type SubtaskCreateRequest struct {
	Title string `json:"title"`
}

type SubtaskPatchRequest struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content"`
}

type MemberRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type taskList struct {
	Items []domain.Task `json:"items"`
}

type memberList struct {
	Items []domain.TeamMember `json:"items"`
}

type attachmentList struct {
	Items []domain.Attachment `json:"items"`
}
