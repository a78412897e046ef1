package domain

import "time"

// Task represents a single board item in the read model. Assignee e-mail and
// system name are denormalized from their lookup tables by the snapshot query
// and are read-only here.
type Task struct {
	ID            int64      `json:"id"`
	Title         string     `json:"titulo"`
	StatusID      int        `json:"status_id"`
	Position      float64    `json:"position"`
	AssigneeEmail string     `json:"responsavel_email,omitempty"`
	SystemName    string     `json:"sistema_nome,omitempty"`
	DueDate       *string    `json:"data_fim,omitempty"`
	UpdatedAt     *time.Time `json:"ultima_atualizacao,omitempty"`
}

// Snapshot is the complete ordered task list as of one query execution.
// Seq increases monotonically per process; consumers must ignore any snapshot
// whose Seq is not newer than the one they already hold.
type Snapshot struct {
	Seq   int64  `json:"seq"`
	Tasks []Task `json:"tasks"`
}

// Newer reports whether s should replace a state currently at held.
func (s Snapshot) Newer(held int64) bool {
	return s.Seq > held
}
