package relay

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"wabridge/internal/crypto"
	"wabridge/internal/domain"
	"wabridge/internal/protocol/channel"
	"wabridge/internal/protocol/wire"
)

var errSocketClosed = errors.New("socket closed")

// conn is one device socket.
type conn struct {
	s   *Server
	ws  *websocket.Conn
	log slog.Logger

	wmu sync.Mutex

	in        chan wire.Node
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		s:    s,
		ws:   ws,
		log:  s.log,
		in:   make(chan wire.Node),
		done: make(chan struct{}),
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readLoop decodes frames into c.in until the socket fails.
func (c *conn) readLoop() {
	defer close(c.in)
	var buf wire.Buffer
	for {
		mt, b, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Tracef("Read ended: %v", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		buf.Write(b)
		for {
			n, err := buf.Next()
			if errors.Is(err, wire.ErrTruncated) {
				break
			}
			if err != nil {
				c.log.Warnf("Dropping malformed frame: %v", err)
				continue
			}
			select {
			case c.in <- n:
			case <-c.done:
				return
			}
		}
	}
}

// next waits up to timeout for a node.
func (c *conn) next(timeout time.Duration) (wire.Node, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case n, ok := <-c.in:
		if !ok {
			return wire.Node{}, errSocketClosed
		}
		return n, nil
	case <-t.C:
		return wire.Node{}, domain.TimeoutError{Op: "relay handshake", After: timeout}
	}
}

func (c *conn) expect(tag string) (wire.Node, error) {
	n, err := c.next(c.s.cfg.HandshakeTimeout)
	if err != nil {
		return n, err
	}
	if n.Tag() != tag {
		return n, fmt.Errorf("got %s, want %s", n.Tag(), tag)
	}
	return n, nil
}

func (c *conn) write(n wire.Node) error {
	b, err := wire.Encode(n)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *conn) fail(reason string) {
	c.log.Debugf("Rejecting device: %s", reason)
	if err := c.write(wire.New(channel.TagFailure, wire.Attrs{"reason": wire.Text(reason)})); err != nil {
		c.log.Tracef("Write failure node: %v", err)
	}
}

// serve runs the dialogue for one socket.
func (c *conn) serve() {
	go c.readLoop()
	defer c.close()

	hello, err := c.expect(channel.TagHello)
	if err != nil {
		c.log.Debugf("No hello: %v", err)
		return
	}
	if err := c.write(wire.New(channel.TagHello, wire.Attrs{"v": wire.Int(channel.Version)})); err != nil {
		return
	}
	if v, _ := hello.AttrInt("v"); v != channel.Version {
		c.log.Debugf("Device speaks version %d", v)
		return
	}
	c.log.Debugf("Hello from %s %s %s", hello.AttrText("client"),
		hello.AttrText("browser"), hello.AttrText("browser_v"))

	n, err := c.next(c.s.cfg.HandshakeTimeout)
	if err != nil {
		return
	}
	var dev *device
	switch n.Tag() {
	case channel.TagInit:
		dev, err = c.awaitScan()
	case channel.TagRestore:
		dev, err = c.restore(n)
	default:
		c.fail("unexpected " + n.Tag())
		return
	}
	if err != nil {
		c.log.Debugf("Handshake failed: %v", err)
		return
	}

	dev.attach(c)
	defer dev.detach(c)
	c.authenticated(dev)
}

// pendingPair is a socket waiting for its ref to be scanned.
type pendingPair struct {
	c      *conn
	result chan pairResult
}

type pairResult struct {
	dev  *device
	node wire.Node
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (c *conn) awaitScan() (*device, error) {
	ref := randomToken(12)
	p := &pendingPair{c: c, result: make(chan pairResult, 1)}
	c.s.refs.Store(ref, p)
	defer c.s.refs.Delete(ref)

	ttl := c.s.cfg.RefTTL
	err := c.write(wire.New(channel.TagRef, wire.Attrs{
		"ref": wire.Text(ref),
		"ttl": wire.Int(int64(ttl / time.Second)),
	}))
	if err != nil {
		return nil, err
	}
	c.log.Debugf("Issued ref %s", ref)

	t := time.NewTimer(ttl)
	defer t.Stop()
	for {
		select {
		case r := <-p.result:
			if err := c.write(r.node); err != nil {
				return nil, err
			}
			return r.dev, nil
		case n, ok := <-c.in:
			if !ok {
				return nil, errSocketClosed
			}
			c.log.Debugf("Ignoring %s while awaiting scan", n.Tag())
		case <-t.C:
			c.fail("ref expired")
			return nil, domain.TimeoutError{Op: "scan", After: ttl}
		}
	}
}

func (c *conn) restore(n wire.Node) (*device, error) {
	dev, ok := c.s.devices.Load(n.AttrText("server_token"))
	if !ok || dev.clientToken != n.AttrText("client_token") {
		c.fail("unknown session")
		return nil, ErrUnknownDevice
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	if err := c.write(wire.New(channel.TagChallenge, wire.Attrs{"nonce": wire.Binary(nonce)})); err != nil {
		return nil, err
	}
	resp, err := c.expect(channel.TagResponse)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyChallenge(dev.macKey, nonce, resp.AttrBinary("mac")) {
		c.fail("bad challenge response")
		return nil, domain.AuthFailure{Reason: "bad challenge response"}
	}
	if err := c.write(wire.New(channel.TagSuccess, wire.Attrs{"jid": wire.Text(string(dev.jid))})); err != nil {
		return nil, err
	}
	c.log.Debugf("Restored %s (client %s)", dev.jid, n.AttrText("client"))
	return dev, nil
}

// authenticated reads sealed nodes from dev until the socket closes.
func (c *conn) authenticated(dev *device) {
	for n := range c.in {
		if n.Tag() != channel.TagEnc {
			c.log.Debugf("Dropping unsealed %s from %s", n.Tag(), dev.jid)
			continue
		}
		inner, err := dev.open(n)
		if err != nil {
			c.log.Warnf("Dropping frame from %s: %v", dev.jid, err)
			continue
		}
		switch inner.Tag() {
		case channel.TagPing:
			err = dev.send(wire.New(channel.TagPong, wire.Attrs{"id": wire.Text(inner.AttrText("id"))}))
		case channel.TagMessage:
			err = c.s.route(dev, inner)
		case channel.TagAck:
			dev.acked(domain.MessageID(inner.AttrText("id")))
		default:
			c.log.Debugf("Ignoring %s from %s", inner.Tag(), dev.jid)
		}
		if err != nil {
			c.log.Debugf("Device %s: %v", dev.jid, err)
			return
		}
	}
}
