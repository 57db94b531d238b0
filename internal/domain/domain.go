package domain

type Unit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"soldier,officer,company_commander,battalion_commander,admin"`
	Unit      string `json:"unit"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Report struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Content         string           `json:"content"`
	AuthorID        string           `json:"author_id"`
	Status          string           `json:"status" enum:"draft,pending,approved,rejected,needs_revision"`
	Type            string           `json:"type" enum:"text,file,video"`
	Unit            string           `json:"unit"`
	Priority        string           `json:"priority" enum:"low,medium,high"`
	Approvers       []string         `json:"approvers"`
	CurrentApprover *string          `json:"current_approver,omitempty"`
	Approvals       []ReportApproval `json:"approvals,omitempty"`
	Comments        []ReportComment  `json:"comments,omitempty"`
	Revisions       []ReportRevision `json:"revisions,omitempty"`
	CurrentRevision int              `json:"current_revision"`
	AttachmentsJSON *string          `json:"attachments_json,omitempty"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" format:"date-time"`
}

// ReportApproval is one approver decision. Rows are immutable once inserted.
type ReportApproval struct {
	ID         string  `json:"id"`
	ReportID   string  `json:"report_id"`
	ApproverID string  `json:"approver_id"`
	Status     string  `json:"status" enum:"approved,rejected,needs_revision"`
	Comment    *string `json:"comment,omitempty"`
	Revision   int     `json:"revision"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type ReportComment struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id"`
	AuthorID   string `json:"author_id"`
	Content    string `json:"content"`
	IsRevision bool   `json:"is_revision"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// ReportRevision is an immutable versioned snapshot of title/content/attachments.
type ReportRevision struct {
	ID              string  `json:"id"`
	ReportID        string  `json:"report_id"`
	Version         int     `json:"version"`
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	AttachmentsJSON *string `json:"attachments_json,omitempty"`
	AuthorID        string  `json:"author_id"`
	Comment         *string `json:"comment,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssignedTo  string  `json:"assigned_to"`
	CreatedBy   string  `json:"created_by"`
	Unit        string  `json:"unit"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	Status      string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	Priority    string  `json:"priority" enum:"low,medium,high"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Kind        string  `json:"kind"`
	PayloadJSON string  `json:"payload_json,omitempty"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Unit       string `json:"unit,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskStats are pure counts derived from the task collection.
type TaskStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	Overdue    int            `json:"overdue"`
}
