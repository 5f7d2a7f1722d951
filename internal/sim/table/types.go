package table

import (
	"errors"
	"fmt"
	"strings"

	"sharedtable.ai/internal/sim/migration"
	"sharedtable.ai/internal/sim/session"
)

var (
	ErrNotConnected   = migration.ErrNotConnected
	ErrStopped        = errors.New("table: stopped")
	ErrBusy           = errors.New("table: request queue full")
	ErrUnresolved     = errors.New("table: entity not found")
	ErrNotDiscardable = errors.New("table: entity cannot be discarded")
)

// Audit actions.
const (
	AuditMigrate    = "MIGRATE"
	AuditTeleport   = "TELEPORT"
	AuditToolKit    = "TOOLKIT"
	AuditPanelSpawn = "PANEL_SPAWN"
	AuditPanelFlash = "PANEL_FLASH"
	AuditPanelClose = "PANEL_CLOSE"
	AuditDiscard    = "DISCARD"
	AuditDenied     = "AUTHORITY_DENIED"
)

type GestureKind string

const (
	GestureGrabStart  GestureKind = "GRAB_START"
	GestureGrabEnd    GestureKind = "GRAB_END"
	GestureClosePanel GestureKind = "CLOSE_PANEL"
	GestureDiscard    GestureKind = "DISCARD"
)

func ParseGestureKind(s string) (GestureKind, error) {
	switch k := GestureKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case GestureGrabStart, GestureGrabEnd, GestureClosePanel, GestureDiscard:
		return k, nil
	default:
		return "", fmt.Errorf("unknown gesture %q", s)
	}
}

// Gesture is one input event from the peer's input layer.
type Gesture struct {
	Kind   GestureKind      `json:"kind"`
	Target session.EntityID `json:"target"`
}
