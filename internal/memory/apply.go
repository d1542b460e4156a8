package memory

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mleone/durmem/internal/model"
)

// ApplyResult reports the outcome of one update in a batch.
type ApplyResult struct {
	Index    int      `json:"index"`
	Op       model.Op `json:"op"`
	TargetID string   `json:"target_id,omitempty"`
	ID       string   `json:"id,omitempty"`
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
}

// Apply runs a batch of memory updates, each independently: a failure is
// logged and recorded in its result but never aborts previously-applied
// or subsequent updates.
func (m *Manager) Apply(ctx context.Context, updates []model.Update) []ApplyResult {
	results := make([]ApplyResult, 0, len(updates))
	for i, u := range updates {
		res := ApplyResult{Index: i, Op: u.Op, TargetID: u.TargetID}
		res.ID, res.Error = m.applyOne(ctx, u)
		res.OK = res.Error == ""
		if !res.OK {
			log.Warn("skipping failed update", "index", i, "op", u.Op, "err", res.Error)
		}
		results = append(results, res)
	}
	return results
}

func (m *Manager) applyOne(ctx context.Context, u model.Update) (id string, errMsg string) {
	var err error
	switch u.Op {
	case model.OpCreate:
		if u.Entry == nil {
			err = fmt.Errorf("create update carries no entry")
			break
		}
		id, err = m.Create(ctx, u.Entry)
	case model.OpSupersede:
		if u.Entry == nil {
			err = fmt.Errorf("supersede update carries no replacement entry")
			break
		}
		id, err = m.Supersede(ctx, u.TargetID, u.Entry)
	case model.OpDeprecate:
		err = m.Deprecate(ctx, u.TargetID)
		id = u.TargetID
	default:
		err = fmt.Errorf("unknown op %q", u.Op)
	}
	if err != nil {
		return "", err.Error()
	}
	return id, ""
}
