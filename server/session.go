package server

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/WeiXinbang/FuturesCloudSentinel/protocol"
)

// Session is one client connection. Responses and watcher pushes share the
// write mutex so frames never interleave on the wire.
type Session struct {
	id   string
	conn net.Conn

	mu      sync.Mutex
	account string

	writeMu sync.Mutex
}

func newSession(conn net.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Bind attaches the authenticated account to the connection. The bound
// account, not request fields, decides whose data a request touches.
func (s *Session) Bind(account string) {
	s.mu.Lock()
	s.account = account
	s.mu.Unlock()
}

// Push writes an already marshalled envelope as one frame.
func (s *Session) Push(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteMessage(s.conn, payload)
}

func (s *Session) writeResponse(resp *protocol.Response) error {
	payload, err := protocol.Encode(resp)
	if err != nil {
		return err
	}
	return s.Push(payload)
}

func (s *Session) close() {
	s.conn.Close()
}
