package gami

import (
	"bufio"
	"bytes"
	"context"
	"net"

	"github.com/rs/zerolog"
)

// newCapturingLogger returns a Logger that writes every record into buf, so
// tests can assert on log output (e.g. a warning being emitted) without a
// real sink.
func newCapturingLogger() (zerolog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return zerolog.New(buf), buf
}

// pipeDialer is a Dialer backed by net.Pipe, letting tests drive the AMI
// wire protocol from the "server" side without opening a real socket. It
// mirrors the fake-dialer idiom used throughout the example pack for
// testing network code without a live listener.
type pipeDialer struct {
	dial func(ctx context.Context) (net.Conn, error)
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.dial(ctx)
}

// newPipeDialer returns a Dialer whose DialContext hands the caller one end
// of an in-memory pipe while returning the other end for the test to
// control directly. Each call to DialContext (e.g. on reconnect) creates a
// fresh pipe and sends it on serverConns.
func newPipeDialer() (dialer *pipeDialer, serverConns chan net.Conn) {
	serverConns = make(chan net.Conn, 8)
	dialer = &pipeDialer{
		dial: func(ctx context.Context) (net.Conn, error) {
			client, server := net.Pipe()
			serverConns <- server
			return client, nil
		},
	}
	return dialer, serverConns
}

// serverSide wraps one server-half connection with a buffered reader so
// tests can read framed requests line by line.
type serverSide struct {
	conn net.Conn
	r    *bufio.Reader
}

func newServerSide(conn net.Conn) *serverSide {
	return &serverSide{conn: conn, r: bufio.NewReader(conn)}
}

func (s *serverSide) sendWelcome(banner string) error {
	_, err := s.conn.Write([]byte(banner + "\r\n"))
	return err
}

func (s *serverSide) send(data string) error {
	_, err := s.conn.Write([]byte(data))
	return err
}

// readPacket reads one \r\n\r\n-terminated block and parses it into headers,
// mirroring what the transport's reader does on the client side.
func (s *serverSide) readPacket() (*Packet, error) {
	var lines []byte
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		lines = append(lines, line...)
		if len(lines) >= 4 && string(lines[len(lines)-4:]) == "\r\n\r\n" {
			break
		}
	}
	return parsePacket(lines), nil
}
