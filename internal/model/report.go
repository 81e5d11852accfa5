package model

import "time"

// FailureKind classifies why a target or artifact was dropped from a run.
type FailureKind string

const (
	FailureRateLimited   FailureKind = "rate_limited"
	FailureAuth          FailureKind = "auth_failed"
	FailureNotFound      FailureKind = "not_found"
	FailureTransport     FailureKind = "transport_error"
	FailureContentType   FailureKind = "content_type_rejected"
	FailureOriginBlocked FailureKind = "origin_blocked"
	FailureEnrichment    FailureKind = "enrichment_failed"
	FailureNoFetcher     FailureKind = "no_fetcher"
)

// Failure is one entry in the partial-failure ledger. Key identifies the
// dropped unit: "source/handle" for targets, the media URL for artifacts.
// ResetAt is set only for rate-limit failures when the provider reported
// a reset time.
type Failure struct {
	Key     string      `json:"key"`
	Kind    FailureKind `json:"kind"`
	Reason  string      `json:"reason"`
	ResetAt *time.Time  `json:"reset_at,omitempty"`
}

// Report is the final product of a run: the synthesized analysis plus
// full accounting of every unit that was dropped along the way.
type Report struct {
	Query       string    `json:"query"`
	GeneratedAt time.Time `json:"generated_at"`
	Offline     bool      `json:"offline"`
	Model       string    `json:"model"`
	VisionModel string    `json:"vision_model"`
	Body        string    `json:"body"`
	Failures    []Failure `json:"failures,omitempty"`
}
