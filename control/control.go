// Package control carries snippets to a running engine over UDP. One
// datagram is one snippet, fire and forget: evaluation errors are logged
// on the engine side and nothing is sent back.
package control

import (
	"fmt"
	"log"
	"net"
)

// maxSnippet caps a datagram at the largest size that survives common
// UDP stacks. Live-coding snippets are a few lines; anything bigger
// should go through the init script.
const maxSnippet = 64 << 10

type Server struct {
	conn    net.PacketConn
	handler func(snippet string)
	done    chan struct{}
}

// Serve binds addr and dispatches every incoming datagram to handler on
// the server's own goroutine, one snippet at a time.
func Serve(addr string, handler func(snippet string)) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: cannot listen on %s: %w", addr, err)
	}
	s := &Server{conn: conn, handler: handler, done: make(chan struct{})}
	go s.loop()
	return s, nil
}

func (s *Server) loop() {
	defer close(s.done)
	buf := make([]byte, maxSnippet)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return // closed
		}
		if n == len(buf) {
			log.Printf("control: datagram from %s at the size cap, likely truncated", from)
		}
		s.handler(string(buf[:n]))
	}
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string { return s.conn.LocalAddr().String() }

func (s *Server) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}

type Client struct {
	conn net.Conn
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: cannot dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Send ships one snippet. There is no acknowledgment.
func (c *Client) Send(snippet string) error {
	if len(snippet) > maxSnippet {
		return fmt.Errorf("control: snippet of %d bytes exceeds the %d byte datagram cap", len(snippet), maxSnippet)
	}
	if _, err := c.conn.Write([]byte(snippet)); err != nil {
		return fmt.Errorf("control: send failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error { return c.conn.Close() }
