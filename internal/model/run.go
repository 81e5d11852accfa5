package model

import "time"

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusCollecting   RunStatus = "collecting"
	RunStatusEnriching    RunStatus = "enriching"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
)

// PhaseStatus represents the outcome of a single phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// Run represents a single analysis run over a set of targets.
type Run struct {
	ID        string     `json:"id"`
	Query     string     `json:"query"`
	Targets   []Target   `json:"targets"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Report          string        `json:"report"`
	TargetsOK       int           `json:"targets_ok"`
	TargetsFailed   int           `json:"targets_failed"`
	ArtifactsOK     int           `json:"artifacts_ok"`
	ArtifactsFailed int           `json:"artifacts_failed"`
	Failures        []Failure     `json:"failures,omitempty"`
	Phases          []PhaseResult `json:"phases"`
	Error           string        `json:"error,omitempty"`
}

// RunPhase represents a phase row within a run, as persisted.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult holds per-phase outcome and timing.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
