package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/protocol"
	"github.com/XYinfg/distributed-booking-system/internal/transport"
)

// Server runs the receive loop: datagrams are processed strictly
// sequentially, which linearizes dedup checks and directory mutations
// without locking inside the dispatcher. Only the expiry sweep and the
// notification pump touch shared state concurrently.
type Server struct {
	conn       *transport.Conn
	dispatcher *Dispatcher
	log        *zap.Logger
}

func New(conn *transport.Conn, dispatcher *Dispatcher, log *zap.Logger) *Server {
	return &Server{conn: conn, dispatcher: dispatcher, log: log}
}

// Run receives until the context is cancelled and the connection closed.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, protocol.MaxMessageSize)
	for {
		n, from, err := s.conn.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("receive failed", zap.Error(err))
			continue
		}
		reply := s.dispatcher.Handle(buf[:n], from)
		if reply == nil {
			continue
		}
		if err := s.conn.Send(reply, from); err != nil {
			s.log.Error("sending reply failed",
				zap.String("client", from.String()), zap.Error(err))
		}
	}
}
