package domain

// Protocol identifies the wire protocol a connection was classified as by the
// acceptor/dispatcher, before any handler is invoked.
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolHTTPS     Protocol = "https"
	ProtocolTCP       Protocol = "tcp"
	ProtocolUDP       Protocol = "udp"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolUnknown   Protocol = "unknown"
)

// ConnectionInfo is the routing fingerprint used by the router to pick a
// target. It's immutable once constructed and scoped to a single request.
type ConnectionInfo struct {
	Address  string
	HTTPPath string
	Protocol Protocol
	Port     uint16
	Remote   bool
}

// Equal compares two ConnectionInfo values field-wise.
func (c ConnectionInfo) Equal(other ConnectionInfo) bool {
	return c.Protocol == other.Protocol &&
		c.Address == other.Address &&
		c.Port == other.Port &&
		c.HTTPPath == other.HTTPPath &&
		c.Remote == other.Remote
}
