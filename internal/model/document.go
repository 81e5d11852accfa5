package model

import (
	"fmt"
	"time"
)

// Target identifies one (source, handle) pair under investigation.
// It is immutable for the duration of a run and, after handle
// sanitization, doubles as the cache key.
type Target struct {
	Source string `json:"source"`
	Handle string `json:"handle"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Source, t.Handle)
}

// ArtifactType tags the kind of media an artifact points at.
type ArtifactType string

const (
	ArtifactImage ArtifactType = "image"
	ArtifactVideo ArtifactType = "video"
	ArtifactGIF   ArtifactType = "gif"
)

// Artifact is a media reference attached to a record. LocalPath is set
// once the content store has downloaded the bytes; Analysis is set once
// the vision model has described the image. An empty Analysis means
// "not yet enriched", never "enrichment failed".
type Artifact struct {
	URL       string       `json:"url"`
	LocalPath string       `json:"local_path,omitempty"`
	Type      ArtifactType `json:"type"`
	Analysis  string       `json:"analysis,omitempty"`
}

// Record is one unit of user-generated content: a post, comment,
// submission, or source-defined equivalent. Identity for dedup purposes
// is (Source, ID).
type Record struct {
	Source        string            `json:"source"`
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Author        string            `json:"author"`
	Text          string            `json:"text"`
	Artifacts     []Artifact        `json:"artifacts,omitempty"`
	ExternalLinks []string          `json:"external_links,omitempty"`
	URL           string            `json:"url"`
	Metrics       map[string]int    `json:"metrics,omitempty"`
	Type          string            `json:"type"`
	Context       map[string]string `json:"context,omitempty"`
}

// Key returns the dedup identity of the record.
func (r Record) Key() string {
	return r.Source + ":" + r.ID
}

// Profile holds the identity attributes for a target. It is replaced
// wholesale on every successful fetch, never merged field by field.
type Profile struct {
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Handle      string         `json:"handle"`
	DisplayName string         `json:"display_name,omitempty"`
	Bio         string         `json:"bio,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	URL         string         `json:"url"`
	Metrics     map[string]int `json:"metrics,omitempty"`
}

// DocumentStats holds aggregate counters recomputed on every save.
type DocumentStats struct {
	TotalRecords int `json:"total_records"`
}

// Document is the persisted unit for one target: the latest profile,
// the merged record history (newest first), and the timestamp of the
// last network fetch. A document missing profile, records, or the
// fetch timestamp is corrupt and must be evicted, not returned.
type Document struct {
	Profile   *Profile      `json:"profile"`
	Records   []Record      `json:"records"`
	FetchedAt time.Time     `json:"fetched_at"`
	Stats     DocumentStats `json:"stats"`
}

// Valid reports whether the document satisfies the minimum schema:
// a profile, a non-nil record list, and a fetch timestamp. Records may
// be empty (a quiet account) but the field must be present.
func (d *Document) Valid() bool {
	return d != nil && d.Profile != nil && d.Records != nil && !d.FetchedAt.IsZero()
}
