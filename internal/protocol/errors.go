package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command authentication.
	ErrUnsigned     = "E_UNSIGNED"
	ErrBadSignature = "E_BAD_SIGNATURE"
	ErrNoSession    = "E_NO_SESSION"

	// Rule/action layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrStale      = "E_STALE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnsigned:        {},
	ErrBadSignature:    {},
	ErrNoSession:       {},
	ErrBadRequest:      {},
	ErrRateLimit:       {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
