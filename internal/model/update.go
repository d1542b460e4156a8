package model

// Op names a memory update command.
type Op string

const (
	OpCreate    Op = "create"
	OpSupersede Op = "supersede"
	OpDeprecate Op = "deprecate"
)

// Update is one command in a batch produced by an agent session. It is
// applied, not stored: create carries a full entry payload, supersede a
// target plus replacement payload, deprecate a target only.
type Update struct {
	Op       Op     `json:"op"`
	TargetID string `json:"target_id,omitempty"`
	Entry    *Entry `json:"entry,omitempty"`
}
