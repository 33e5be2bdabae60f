package wire

import (
	"errors"
	"io"
	"sync"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/scroll"
)

// Client is the connection-backed namespace proxy. Every operation
// serializes a tagged request, awaits the matching reply, and translates
// the carried error code back into the local taxonomy. Watch events are
// routed to their subscription by tag.
//
// Close cancels the local bookkeeping and closes the transport; it sends
// no protocol message.
type Client struct {
	conn io.ReadWriteCloser

	mu      sync.Mutex
	nextTag int64
	pending map[int64]chan *Response
	watches map[int64]*ns.Subscription
	closed  bool

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// NewClient wraps an established bidirectional byte stream and starts
// the demultiplexing loop.
func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan *Response),
		watches: make(map[int64]*ns.Subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

var _ ns.Namespace = (*Client)(nil)

// readLoop routes incoming frames: events to their watch subscription,
// everything else to the pending request with the same tag. A transport
// failure fails every pending request with a connection error and
// terminates every watch.
func (c *Client) readLoop() {
	defer c.teardown()

	var framer Framer
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				resp, decErr := DecodeResponse(frame)
				if decErr != nil {
					continue
				}
				c.route(resp)
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) route(resp *Response) {
	c.mu.Lock()
	if resp.Event {
		// Publishing under the lock keeps the non-blocking send ordered
		// against teardown's Terminate.
		if sub := c.watches[resp.Tag]; sub != nil && resp.Scroll != nil {
			sub.Publish(resp.Scroll)
		}
		c.mu.Unlock()
		return
	}
	ch, ok := c.pending[resp.Tag]
	if ok {
		delete(c.pending, resp.Tag)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// teardown fails all pending requests and terminates all watches after
// the transport is gone.
func (c *Client) teardown() {
	c.mu.Lock()
	pending := c.pending
	watches := c.watches
	c.pending = make(map[int64]chan *Response)
	c.watches = make(map[int64]*ns.Subscription)
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	for _, ch := range pending {
		close(ch)
	}
	// The maps were swapped under the lock, so route can no longer reach
	// these subscriptions; terminating them here cannot race a publish.
	for _, sub := range watches {
		sub.Terminate()
	}
}

// rpc sends a request and blocks for its reply.
func (c *Client) rpc(op, path string, data map[string]any) (*Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ns.E(ns.CodeClosed, "client is closed")
	}
	c.nextTag++
	tag := c.nextTag
	ch := make(chan *Response, 1)
	c.pending[tag] = ch
	c.mu.Unlock()

	if err := c.send(&Request{Tag: tag, Op: op, Path: path, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ns.E(ns.CodeConnection, "connection lost")
		}
		if !resp.OK {
			return nil, responseError(resp)
		}
		return resp, nil
	case <-c.done:
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return nil, ns.E(ns.CodeConnection, "connection lost")
	}
}

func (c *Client) send(req *Request) error {
	frame, err := EncodeRequest(req)
	if err != nil {
		return ns.Errorf(ns.CodeInternal, "%v", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ns.E(ns.CodeConnection, "connection lost")
		}
		return ns.Errorf(ns.CodeConnection, "write: %w", err)
	}
	return nil
}

// Read fetches the scroll at path from the remote namespace.
func (c *Client) Read(path string) (*scroll.Scroll, error) {
	resp, err := c.rpc(OpRead, path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Scroll, nil
}

// Write persists data at path on the remote namespace.
func (c *Client) Write(path string, data map[string]any) (*scroll.Scroll, error) {
	if data == nil {
		data = map[string]any{}
	}
	resp, err := c.rpc(OpWrite, path, data)
	if err != nil {
		return nil, err
	}
	return resp.Scroll, nil
}

// WriteScroll writes the scroll's data at its key. The wire protocol
// carries path and data only; other caller hints do not travel.
func (c *Client) WriteScroll(s *scroll.Scroll) (*scroll.Scroll, error) {
	return c.Write(s.Key, s.Data)
}

// List fetches the keys under prefix from the remote namespace.
func (c *Client) List(prefix string) ([]string, error) {
	resp, err := c.rpc(OpList, prefix, nil)
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Watch registers a remote subscription. The call returns once the
// server acknowledges registration; events then flow asynchronously.
// Cancelling the subscription sends unwatch for its tag.
func (c *Client) Watch(pattern string) (*ns.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ns.E(ns.CodeClosed, "client is closed")
	}
	c.nextTag++
	tag := c.nextTag
	ch := make(chan *Response, 1)
	c.pending[tag] = ch
	c.mu.Unlock()

	if err := c.send(&Request{Tag: tag, Op: OpWatch, Path: pattern}); err != nil {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ns.E(ns.CodeConnection, "connection lost")
		}
		if !resp.OK {
			return nil, responseError(resp)
		}
	case <-c.done:
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return nil, ns.E(ns.CodeConnection, "connection lost")
	}

	sub := ns.NewSubscription(pattern, func() { c.unwatch(tag) })
	c.mu.Lock()
	c.watches[tag] = sub
	c.mu.Unlock()
	return sub, nil
}

// unwatch drops the tag's subscription bookkeeping and tells the server
// to stop pushing. Errors are ignored: the subscription is already dead
// locally.
func (c *Client) unwatch(tag int64) {
	c.mu.Lock()
	_, ok := c.watches[tag]
	if ok {
		delete(c.watches, tag)
	}
	closed := c.closed
	c.mu.Unlock()
	if !ok || closed {
		return
	}
	_ = c.send(&Request{Tag: tag, Op: OpUnwatch})
}

// Close cancels all subscriptions and pending requests and closes the
// transport. Idempotent; no protocol message is sent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.conn.Close()
	c.teardown()
	if err != nil {
		return ns.Errorf(ns.CodeConnection, "close transport: %w", err)
	}
	return nil
}
