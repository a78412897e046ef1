package domain

// Broadcast event names exchanged over the relay channel. Clients emit
// EventTaskMutated after a successful mutation call; the relay forwards the
// same payload to every other connected client under EventBoardUpdate.
const (
	EventTaskMutated = "task-mutated"
	EventBoardUpdate = "board-update"
)

// BoardEvent is the wire format of the broadcast channel. It is a hint, not a
// source of truth: delivery is best effort, unordered and unacknowledged.
// When Snapshot is set, receivers may apply it through the same sequence-gated
// path as poll and stream results; when it is nil they should re-fetch.
type BoardEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"event"`
	TaskID   int64     `json:"task_id,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}
