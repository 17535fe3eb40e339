package kdb

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/net/nettest"

	"github.com/st-keller/kdb-client/ipc"
	"github.com/st-keller/kdb-client/types"
)

// reply is one message the fake server writes back.
type reply struct {
	typ   ipc.MessageType
	value any
}

// received is a message the fake server read from a client.
type received struct {
	header ipc.Header
	value  any
}

// fakeQ is an in-process q process speaking the IPC protocol on a local listener.
type fakeQ struct {
	t        *testing.T
	ln       net.Listener
	codec    *ipc.Codec
	version  byte
	reject   bool
	eval     func(ipc.MessageType, any) []reply
	accepted atomic.Int32

	mu       sync.Mutex
	creds    []string
	conns    []net.Conn
	messages chan received
	answers  chan any
}

func newFakeQ(t *testing.T, eval func(ipc.MessageType, any) []reply) *fakeQ {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeQ{
		t:        t,
		ln:       ln,
		codec:    ipc.NewCodec(),
		version:  3,
		eval:     eval,
		messages: make(chan received, 16),
		answers:  make(chan any, 4),
	}
	t.Cleanup(s.close)
	return s
}

func (s *fakeQ) start() *fakeQ {
	go s.serve()
	return s
}

func (s *fakeQ) config() Config {
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		s.t.Fatalf("split addr: %v", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		s.t.Fatalf("parse port: %v", err)
	}
	return Config{Host: host, Port: p, Username: "bob", Password: "secret"}
}

func (s *fakeQ) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *fakeQ) credentials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.creds...)
}

func (s *fakeQ) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeQ) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	hello, err := r.ReadBytes(0)
	if err != nil || len(hello) < 2 {
		return
	}
	s.mu.Lock()
	s.creds = append(s.creds, string(hello[:len(hello)-2]))
	s.mu.Unlock()
	if s.reject {
		return
	}
	if _, err := conn.Write([]byte{s.version}); err != nil {
		return
	}

	for {
		h, v, err := s.read(r)
		if err != nil {
			return
		}
		select {
		case s.messages <- received{header: h, value: v}:
		default:
		}
		if s.eval == nil {
			continue
		}
		for _, out := range s.eval(h.Type, v) {
			msg, err := s.codec.EncodeMessage(out.typ, out.value)
			if err != nil {
				s.t.Errorf("fake q encode: %v", err)
				return
			}
			if _, err := conn.Write(msg); err != nil {
				return
			}
			if out.typ == ipc.Sync {
				_, answer, err := s.read(r)
				if err != nil {
					s.answers <- err
					continue
				}
				s.answers <- answer
			}
		}
	}
}

func (s *fakeQ) read(r *bufio.Reader) (ipc.Header, any, error) {
	hdr := make([]byte, ipc.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return ipc.Header{}, nil, err
	}
	h, err := ipc.ParseHeader(hdr)
	if err != nil {
		return h, nil, err
	}
	msg := make([]byte, h.Size)
	copy(msg, hdr)
	if _, err := io.ReadFull(r, msg[ipc.HeaderSize:]); err != nil {
		return h, nil, err
	}
	_, v, err := s.codec.DecodeMessage(msg)
	return h, v, err
}

// calculator answers a few fixed expressions and echoes everything else.
func calculator(t ipc.MessageType, v any) []reply {
	if t != ipc.Sync {
		return nil
	}
	expr, ok := v.(types.Chars)
	if !ok {
		return []reply{{ipc.Response, v}}
	}
	switch {
	case expr == "2+3":
		return []reply{{ipc.Response, int64(5)}}
	case expr == "1+`a":
		return []reply{{ipc.Response, &ipc.RemoteError{Message: "type"}}}
	case expr == "hang":
		return nil
	case expr == "big":
		return []reply{{ipc.Response, make([]int64, 100_000)}}
	case strings.HasPrefix(string(expr), "push "):
		return []reply{
			{ipc.Async, string(expr[len("push "):])},
			{ipc.Response, true},
		}
	case expr == "ask":
		return []reply{
			{ipc.Sync, types.Chars("who")},
			{ipc.Response, true},
		}
	default:
		return []reply{{ipc.Response, expr}}
	}
}
