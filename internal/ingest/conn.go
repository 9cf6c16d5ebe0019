package ingest

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn is a device connection with read buffering and byte counters.
type Conn struct {
	cid      uint64
	tuple    []string
	r        *bufio.Reader
	created  time.Time
	byte_in  uint64
	byte_out uint64
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())
	return &Conn{cid: cid, tuple: []string{sourceip, sourceport, targetip, targetport}, r: bufio.NewReader(c), created: time.Now(), Conn: c}
}

// SetSource overrides the remote address, used for tunneled streams whose
// real peer arrives as a header line.
func (c *Conn) SetSource(addr string) {
	if ip, port, err := net.SplitHostPort(addr); err == nil {
		c.tuple[0], c.tuple[1] = ip, port
	}
}

func (c *Conn) Peek(n int) ([]byte, error) {
	return c.r.Peek(n)
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(&c.byte_in, uint64(n))
	return n, err
}

func (c *Conn) ReadString(delim byte) (string, error) {
	s, err := c.r.ReadString(delim)
	atomic.AddUint64(&c.byte_in, uint64(len(s)))
	return s, err
}

func (c *Conn) Write(d []byte) (int, error) {
	n, err := c.Conn.Write(d)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) Stat() (byte_in uint64, byte_out uint64) {
	return atomic.LoadUint64(&c.byte_in), atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Uint64("cid", c.cid).Strs("socket", c.tuple)
}
