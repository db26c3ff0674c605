package wc

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// PacketConn counts datagrams and bytes passing through a packet socket.
type PacketConn struct {
	conn     net.PacketConn
	closed   uint32
	created  time.Time
	pkt_in   uint64
	byte_in  uint64
	pkt_out  uint64
	byte_out uint64
	log      log.Logger
}

func NewPacketConn(conn net.PacketConn, logger log.Logger) *PacketConn {
	o := &PacketConn{conn: conn}
	o.created = time.Now()
	o.log = logger
	o.log.Context = log.NewContext(logger.Context).Str("local_address", conn.LocalAddr().String()).Value()
	o.log.Debug().Msg("socket created")
	return o
}

func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.conn.ReadFrom(p)
	if n > 0 {
		atomic.AddUint64(&c.pkt_in, 1)
		atomic.AddUint64(&c.byte_in, uint64(n))
	}
	return n, addr, err
}

func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	n, err := c.conn.WriteTo(p, addr)
	if err == nil {
		atomic.AddUint64(&c.pkt_out, 1)
	}
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

// Write sends on a connected socket.
func (c *PacketConn) Write(p []byte) (int, error) {
	w, ok := c.conn.(interface{ Write([]byte) (int, error) })
	if !ok {
		return 0, net.ErrWriteToConnected
	}
	n, err := w.Write(p)
	if err == nil {
		atomic.AddUint64(&c.pkt_out, 1)
	}
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *PacketConn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	err := c.conn.Close()
	c.log.Debug().Uint64("pkt_in", atomic.LoadUint64(&c.pkt_in)).Uint64("byte_in", atomic.LoadUint64(&c.byte_in)).
		Uint64("pkt_out", atomic.LoadUint64(&c.pkt_out)).Uint64("byte_out", atomic.LoadUint64(&c.byte_out)).Msg("socket closed")
	return err
}

type Counters struct {
	PacketsIn  uint64 `json:"packets_in"`
	BytesIn    uint64 `json:"bytes_in"`
	PacketsOut uint64 `json:"packets_out"`
	BytesOut   uint64 `json:"bytes_out"`
}

func (c *PacketConn) Stat() Counters {
	return Counters{
		PacketsIn:  atomic.LoadUint64(&c.pkt_in),
		BytesIn:    atomic.LoadUint64(&c.byte_in),
		PacketsOut: atomic.LoadUint64(&c.pkt_out),
		BytesOut:   atomic.LoadUint64(&c.byte_out),
	}
}

func (c *PacketConn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *PacketConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *PacketConn) Created() time.Time {
	return c.created
}
