package table

import (
	"sharedtable.ai/internal/protocol"
	"sharedtable.ai/internal/sim/migration"
	"sharedtable.ai/internal/sim/session"
)

type AuditEntry struct {
	Tick   uint64                       `json:"tick"`
	Peer   int                          `json:"peer"`
	Action string                       `json:"action"`
	Entity uint32                       `json:"entity,omitempty"`
	RunID  string                       `json:"run_id,omitempty"`
	Reason string                       `json:"reason,omitempty"`
	Report *protocol.MigrationReportMsg `json:"report,omitempty"`
}

// TickLogEntry summarizes one table step.
type TickLogEntry struct {
	Tick      uint64 `json:"tick"`
	Peer      int    `json:"peer"`
	Resolving int    `json:"resolving"`
	Live      int    `json:"live"`
	Orphaned  int    `json:"orphaned"`
	Panels    int    `json:"panels"`
	Flashes   int    `json:"flashes"`
	// Lookups is the running count of edge endpoint lookups.
	Lookups uint64 `json:"lookups"`
}

type AuditSink interface {
	WriteAudit(AuditEntry) error
}

type TickSink interface {
	WriteTick(TickLogEntry) error
}

func (t *Table) auditf(e AuditEntry) {
	if e.Tick == 0 {
		e.Tick = t.rt.Tick()
	}
	e.Peer = int(t.rt.LocalPeer())
	for _, s := range t.audit {
		if err := s.WriteAudit(e); err != nil {
			t.logf("table: audit write failed: %v", err)
		}
	}
}

// RecordMigration audits every finished migration run.
func (t *Table) RecordMigration(rep migration.Report) {
	msg := ReportMessage(rep)
	t.auditf(AuditEntry{Tick: rep.Tick, Action: AuditMigrate, RunID: rep.RunID, Report: &msg})
}

// ReportMessage converts a migration report to its wire form.
func ReportMessage(rep migration.Report) protocol.MigrationReportMsg {
	msg := protocol.MigrationReportMsg{
		Type:            protocol.TypeMigrationReport,
		ProtocolVersion: protocol.Version,
		RunID:           rep.RunID,
		Peer:            int(rep.Peer),
		Tick:            rep.Tick,
		Anchor:          rep.Anchor.ID,
		AnchorFallback:  rep.AnchorFallback,
		Detections:      rep.Detections,
		Unclassified:    rep.Unclassified,
		Nodes:           replicas(rep.Nodes),
		Edges:           replicas(rep.Edges),
		Findings:        make([]protocol.FindingMsg, 0, len(rep.Findings)),
		DurationMs:      rep.Duration.Milliseconds(),
	}
	for _, f := range rep.Findings {
		msg.Findings = append(msg.Findings, protocol.FindingMsg{Code: string(f.Code), Name: f.Name, Detail: f.Detail})
	}
	return msg
}

func replicas(in []migration.Migrated) []protocol.Replica {
	out := make([]protocol.Replica, 0, len(in))
	for _, m := range in {
		out = append(out, protocol.Replica{Name: m.Name, ID: uint32(m.ID), Kind: m.Kind.String()})
	}
	return out
}

func entityID(id session.EntityID) uint32 { return uint32(id) }
