package plan

import (
	"encoding/json"
	"time"

	"sqlweave/internal/diag"
)

// RunStatus is the terminal status of a pipeline run (or of one node).
type RunStatus string

const (
	RunVerified  RunStatus = "/verified"
	RunExhausted RunStatus = "/exhausted"
	RunAborted   RunStatus = "/aborted"
)

// NodeReport is the per-node slice of the run export: everything a
// reporting or CLI layer needs to reconstruct the node's trajectory.
type NodeReport struct {
	ID          string       `json:"id"`
	Kind        OpKind       `json:"kind"`
	Description string       `json:"description"`
	Fragment    string       `json:"fragment,omitempty"`
	State       State        `json:"state"`
	Attempts    int          `json:"attempts"`
	Issues      []diag.Issue `json:"issues,omitempty"` // full history across attempts
}

// StageTally counts pass/fail outcomes for one verification stage.
type StageTally struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// RunReport is the serializable outcome of one pipeline run. It is the
// contract consumed by any reporting layer; partial results survive both
// exhaustion and cancellation.
type RunReport struct {
	RunID     string                    `json:"run_id"`
	Query     string                    `json:"query"`
	Status    RunStatus                 `json:"status"`
	FinalSQL  string                    `json:"final_sql,omitempty"`
	Nodes     []NodeReport              `json:"nodes"`
	Stages    map[diag.Stage]StageTally `json:"stages,omitempty"`
	Attempts  int                       `json:"attempts"` // repair attempts summed over nodes
	StartedAt time.Time                 `json:"started_at"`
	Elapsed   time.Duration             `json:"elapsed"`
	Error     string                    `json:"error,omitempty"`
}

// MarshalIndent renders the report as pretty-printed JSON.
func (r *RunReport) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
