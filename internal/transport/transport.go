// Package transport adapts a UDP socket to the send/receive pair the rest of
// the system uses, with an optional loss-injection hook for demonstrating
// delivery semantics. The dispatcher and client must behave correctly
// whether or not the hook ever fires.
package transport

import (
	"math/rand"
	"net"

	"go.uber.org/zap"
)

// LossFunc reports whether the next send or receive should be dropped.
type LossFunc func() bool

// NoLoss never drops anything.
func NoLoss() bool { return false }

// LossProbability builds a predicate dropping with probability p in [0, 1].
func LossProbability(p float64) LossFunc {
	if p <= 0 {
		return NoLoss
	}
	return func() bool { return rand.Float64() < p }
}

// Conn wraps a UDP connection. Concurrent Sends are safe; Receive is called
// from the single receive loop only.
type Conn struct {
	udp  *net.UDPConn
	drop LossFunc
	log  *zap.Logger
}

func New(udp *net.UDPConn, drop LossFunc, log *zap.Logger) *Conn {
	if drop == nil {
		drop = NoLoss
	}
	return &Conn{udp: udp, drop: drop, log: log}
}

// Send writes one datagram, unless the loss hook elects to drop it. A
// dropped send reports success: to the caller it is indistinguishable from
// loss in the network.
func (c *Conn) Send(data []byte, addr *net.UDPAddr) error {
	if c.drop() {
		c.log.Info("simulated packet loss on send", zap.String("dest", addr.String()))
		return nil
	}
	_, err := c.udp.WriteToUDP(data, addr)
	return err
}

// Receive blocks for the next datagram that survives the loss hook and
// returns the number of bytes and the sender's address.
func (c *Conn) Receive(buf []byte) (int, *net.UDPAddr, error) {
	for {
		n, addr, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			return 0, nil, err
		}
		if c.drop() {
			c.log.Info("simulated packet loss on receive", zap.String("source", addr.String()))
			continue
		}
		return n, addr, nil
	}
}

func (c *Conn) LocalAddr() net.Addr { return c.udp.LocalAddr() }

func (c *Conn) Close() error { return c.udp.Close() }
