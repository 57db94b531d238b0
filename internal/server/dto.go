package server

import (
	"garrison/internal/domain"
)

// Request payloads

type RegisterUserRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
	Role string  `json:"role,omitempty" enum:"soldier,officer,company_commander,battalion_commander,admin"`
	Unit string  `json:"unit,omitempty"`
}

type CreateReportRequest struct {
	ID          *string  `json:"id,omitempty"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Type        string   `json:"type,omitempty" enum:"text,incident,patrol,logistics,other"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high"`
	Approvers   []string `json:"approvers,omitempty"`
	Attachments *string  `json:"attachments,omitempty"`
	Submit      bool     `json:"submit,omitempty"`
}

type UpdateReportRequest struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Priority *string `json:"priority,omitempty" enum:"low,medium,high"`
}

type DecisionRequest struct {
	Comment *string `json:"comment,omitempty"`
}

type RequestRevisionRequest struct {
	Comment string `json:"comment"`
}

type SubmitRevisionRequest struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Attachments *string `json:"attachments,omitempty"`
	Comment     *string `json:"comment,omitempty"`
}

type AddCommentRequest struct {
	Content string `json:"content"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssignedTo  string  `json:"assigned_to"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	Priority    string  `json:"priority,omitempty" enum:"low,medium,high"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	Status      *string `json:"status,omitempty" enum:"pending,in_progress,completed,cancelled"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Unit   string `json:"unit,omitempty"`
	Source string `json:"source"`
}

type APIKeyCreatedResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Key  string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	Unit       string         `json:"unit,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		Unit:       evt.Unit,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
