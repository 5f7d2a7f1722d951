package migration

import (
	"time"

	"sharedtable.ai/internal/sim/scene"
	"sharedtable.ai/internal/sim/session"
	"sharedtable.ai/internal/sim/zones"
)

type FindingCode string

const (
	FindingUnresolvedEndpoint FindingCode = "UNRESOLVED_ENDPOINT"
	FindingUnknownClass       FindingCode = "UNKNOWN_CLASS"
	FindingNoFactory          FindingCode = "NO_FACTORY"
	FindingSpawnFailed        FindingCode = "SPAWN_FAILED"
	FindingConfigMissing      FindingCode = "CONFIG_MISSING"
	FindingIdentityConflict   FindingCode = "IDENTITY_CONFLICT"
)

// Finding is a non-fatal problem met during a run.
type Finding struct {
	Code   FindingCode  `json:"code"`
	Handle scene.Handle `json:"handle,omitempty"`
	Name   string       `json:"name,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

type Migrated struct {
	Handle scene.Handle     `json:"handle"`
	Name   string           `json:"name,omitempty"`
	ID     session.EntityID `json:"id"`
	Kind   session.Kind     `json:"kind"`
}

type Report struct {
	RunID string         `json:"run_id"`
	Peer  session.PeerID `json:"peer"`
	Tick  uint64         `json:"tick"`

	Anchor         zones.Zone `json:"anchor"`
	AnchorFallback bool       `json:"anchor_fallback"`

	// Detections counts raw scan hits before deduplication.
	Detections   int `json:"detections"`
	Unique       int `json:"unique"`
	Unclassified int `json:"unclassified"`
	// Mapped is the size of the identity map when the run finished.
	Mapped int `json:"mapped"`

	Nodes    []Migrated `json:"nodes"`
	Edges    []Migrated `json:"edges"`
	Findings []Finding  `json:"findings"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (r Report) Count(code FindingCode) int {
	n := 0
	for _, f := range r.Findings {
		if f.Code == code {
			n++
		}
	}
	return n
}

// Recorder receives every finished report.
type Recorder interface {
	RecordMigration(Report)
}
