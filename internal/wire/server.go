package wire

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/obiverse/nine-s/internal/ns"
)

// Session serves one accepted connection against a local namespace:
// framed requests in, tagged replies and pushed watch events out. A
// connection drop cancels every subscription the session holds.
type Session struct {
	conn   io.ReadWriteCloser
	target ns.Namespace
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	watches map[int64]*ns.Subscription
	done    chan struct{}
	once    sync.Once
}

// NewSession wraps an accepted connection.
func NewSession(conn io.ReadWriteCloser, target ns.Namespace, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:    conn,
		target:  target,
		logger:  logger,
		watches: make(map[int64]*ns.Subscription),
		done:    make(chan struct{}),
	}
}

// Serve reads and dispatches requests until the connection closes.
func (s *Session) Serve() error {
	defer s.shutdown()

	var framer Framer
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				s.dispatch(frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
	}
}

// Close tears the session down: all subscriptions cancelled, the
// connection closed.
func (s *Session) Close() error {
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		for tag, sub := range s.watches {
			sub.Cancel()
			delete(s.watches, tag)
		}
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *Session) dispatch(frame []byte) {
	req, err := DecodeRequest(frame)
	if err != nil {
		s.logger.Warn("session: bad frame", slog.String("error", err.Error()))
		return
	}
	switch req.Op {
	case OpRead:
		sc, err := s.target.Read(req.Path)
		if err != nil {
			s.reply(errorResponse(req.Tag, err))
			return
		}
		s.reply(&Response{Tag: req.Tag, OK: true, Scroll: sc})
	case OpWrite:
		sc, err := s.target.Write(req.Path, req.Data)
		if err != nil {
			s.reply(errorResponse(req.Tag, err))
			return
		}
		s.reply(&Response{Tag: req.Tag, OK: true, Scroll: sc})
	case OpList:
		paths, err := s.target.List(req.Path)
		if err != nil {
			s.reply(errorResponse(req.Tag, err))
			return
		}
		if paths == nil {
			paths = []string{}
		}
		s.reply(&Response{Tag: req.Tag, OK: true, Paths: paths})
	case OpWatch:
		sub, err := s.target.Watch(req.Path)
		if err != nil {
			s.reply(errorResponse(req.Tag, err))
			return
		}
		s.mu.Lock()
		if old, ok := s.watches[req.Tag]; ok {
			old.Cancel()
		}
		s.watches[req.Tag] = sub
		s.mu.Unlock()
		s.reply(&Response{Tag: req.Tag, OK: true})
		go s.pump(req.Tag, sub)
	case OpUnwatch:
		s.mu.Lock()
		sub, ok := s.watches[req.Tag]
		if ok {
			delete(s.watches, req.Tag)
		}
		s.mu.Unlock()
		if ok {
			sub.Cancel()
			s.reply(&Response{Tag: req.Tag, OK: true})
			return
		}
		s.reply(errorResponse(req.Tag, ns.Errorf(ns.CodeNotFound, "no watch on tag %d", req.Tag)))
	case OpClose:
		err := s.target.Close()
		if err != nil {
			s.reply(errorResponse(req.Tag, err))
			return
		}
		s.reply(&Response{Tag: req.Tag, OK: true})
	default:
		s.reply(errorResponse(req.Tag, ns.Errorf(ns.CodeInvalidData, "unknown op %q", req.Op)))
	}
}

// pump forwards subscription emissions as event responses until the
// subscription terminates or the session shuts down.
func (s *Session) pump(tag int64, sub *ns.Subscription) {
	for {
		select {
		case sc, ok := <-sub.Scrolls():
			if !ok {
				return
			}
			s.reply(&Response{Tag: tag, OK: true, Event: true, Scroll: sc})
		case <-s.done:
			return
		}
	}
}

func (s *Session) reply(r *Response) {
	frame, err := EncodeResponse(r)
	if err != nil {
		s.logger.Error("session: encode reply", slog.String("error", err.Error()))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		s.logger.Debug("session: write failed", slog.String("error", err.Error()))
	}
}
