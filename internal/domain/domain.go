package domain

type Team struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerActorID string `json:"owner_actor_id"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsAutomated bool   `json:"is_automated"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// Slot groups tasks inside a project (a board column, roughly).
type Slot struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Sprint is team-scoped; tasks lose their sprint when they change teams.
type Sprint struct {
	ID        string  `json:"id"`
	TeamID    string  `json:"team_id"`
	Name      string  `json:"name"`
	StartsAt  *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt    *string `json:"ends_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	TeamID      string  `json:"team_id"`
	ProjectID   string  `json:"project_id"`
	SlotID      *string `json:"slot_id,omitempty"`
	SprintID    *string `json:"sprint_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	CreatedBy   string  `json:"created_by"`
	Done        bool    `json:"done"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TeamID     string `json:"team_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RunLock is the single mutual-exclusion primitive for batch runs.
type RunLock struct {
	Key        string `json:"key"`
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}
