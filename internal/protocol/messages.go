package protocol

// SUBSCRIBE (observer -> server)
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Encoding        string `json:"encoding,omitempty"`
}

// TICK (server -> observer)
type TickMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Peer            int          `json:"peer"`
	Color           string       `json:"color,omitempty"`
	Edges           []EdgeState  `json:"edges"`
	Panels          []PanelState `json:"panels"`
}

type EdgeState struct {
	ID      uint32       `json:"id"`
	State   string       `json:"state"`
	Visible bool         `json:"visible"`
	Start   *[3]float64  `json:"start,omitempty"`
	End     *[3]float64  `json:"end,omitempty"`
	Handle  *HandleState `json:"handle,omitempty"`
}

type HandleState struct {
	Pos     [3]float64 `json:"pos"`
	Visible bool       `json:"visible"`
}

type PanelState struct {
	Source uint32 `json:"source"`
	Panel  uint32 `json:"panel,omitempty"`
	State  string `json:"state"`
}

// PANEL_FLASH (server -> observer)
type FlashMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Panel           uint32 `json:"panel"`
	From            int    `json:"from"`
}

// MIGRATION_REPORT (server -> admin)
type MigrationReportMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	RunID           string       `json:"run_id"`
	Peer            int          `json:"peer"`
	Tick            uint64       `json:"tick"`
	Anchor          string       `json:"anchor"`
	AnchorFallback  bool         `json:"anchor_fallback"`
	Detections      int          `json:"detections"`
	Unclassified    int          `json:"unclassified"`
	Nodes           []Replica    `json:"nodes"`
	Edges           []Replica    `json:"edges"`
	Findings        []FindingMsg `json:"findings"`
	DurationMs      int64        `json:"duration_ms"`
}

type Replica struct {
	Name string `json:"name,omitempty"`
	ID   uint32 `json:"id"`
	Kind string `json:"kind"`
}

type FindingMsg struct {
	Code   string `json:"code"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
