package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session state.
	ErrNotConnected    = "E_NOT_CONNECTED"
	ErrPeerNotFound    = "E_PEER_NOT_FOUND"
	ErrConfigMissing   = "E_CONFIG_MISSING"
	ErrUnresolvedRef   = "E_UNRESOLVED_REFERENCE"
	ErrAuthorityDenied = "E_AUTHORITY_DENIED"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotConnected:    {},
	ErrPeerNotFound:    {},
	ErrConfigMissing:   {},
	ErrUnresolvedRef:   {},
	ErrAuthorityDenied: {},
	ErrBadRequest:      {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
