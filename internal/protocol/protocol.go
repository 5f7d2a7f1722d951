package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeSubscribe       = "SUBSCRIBE"
	TypeTick            = "TICK"
	TypeFlash           = "PANEL_FLASH"
	TypeMigrationReport = "MIGRATION_REPORT"
	TypeError           = "ERROR"
)

// Frame encodings an observer may subscribe with.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
