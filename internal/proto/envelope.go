package proto

// Inbound is the envelope for frames the client sends over the websocket.
// Chat sends travel over the REST write path; the socket only carries
// liveness signals upstream.
type Inbound struct {
	Type string `json:"type"`
}

const (
	// InboundTypePing refreshes the connection's registry TTL.
	InboundTypePing = "ping"

	OutboundTypeError = "error"
)

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// ErrorFrame is sent to the client when an inbound frame is rejected.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error Error  `json:"error"`
}

const (
	// ErrCodeUseRest is returned when a client tries to send chat over the
	// socket instead of the REST write path.
	ErrCodeUseRest = "use_rest"
	// ErrCodeBadFrame is returned for unknown frame types.
	ErrCodeBadFrame = "bad_frame"
)
