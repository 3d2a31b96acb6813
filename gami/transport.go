package gami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const readBufSize = 4096

// Dialer abstracts net.Dialer.DialContext so tests can substitute a fake
// connection without opening a real socket.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// transport owns exactly one TCP connection at a time: a single reader, a
// single write serializer, and connection lifecycle. It has no knowledge of
// AMI semantics beyond the welcome line; packet routing is delegated to
// packetHandler and loss notification to disconnectHandler.
type transport struct {
	dialer  Dialer
	network string
	address string
	log     zerolog.Logger

	packetHandler     func(*Packet)
	disconnectHandler func(error)

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writeCh chan writeJob
	done    chan struct{}
	closed  bool
	// eg supervises the current generation's reader and writer goroutines
	// so close can wait for both to actually exit instead of racing the
	// caller's next connect against stragglers from the old connection.
	eg *errgroup.Group
}

type writeJob struct {
	data  []byte
	errCh chan error
}

func newTransport(dialer Dialer, network, address string, log zerolog.Logger,
	packetHandler func(*Packet), disconnectHandler func(error)) *transport {
	return &transport{
		dialer:            dialer,
		network:           network,
		address:           address,
		log:               log,
		packetHandler:     packetHandler,
		disconnectHandler: disconnectHandler,
	}
}

// connect opens a fresh socket, reads the welcome line, and starts the
// reader and writer. It returns the negotiated (major, minor) API version
// parsed from the welcome line.
func (t *transport) connect(ctx context.Context) (major, minor int, err error) {
	conn, err := t.dialer.DialContext(ctx, t.network, t.address)
	if err != nil {
		return 0, 0, newNetwork(err)
	}

	reader := bufio.NewReader(conn)
	welcome, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return 0, 0, newNetwork(fmt.Errorf("reading welcome line: %w", err))
	}
	major, minor = parseWelcome(welcome)

	eg := &errgroup.Group{}

	t.mu.Lock()
	t.conn = conn
	t.reader = reader
	t.writeCh = make(chan writeJob, 64)
	t.done = make(chan struct{})
	t.closed = false
	t.eg = eg
	done := t.done
	t.mu.Unlock()

	t.log.Info().Str("address", t.address).Int("major", major).Int("minor", minor).
		Msg("connected to AMI")

	eg.Go(func() error { t.readLoop(done); return nil })
	eg.Go(func() error { t.writeLoop(done); return nil })

	return major, minor, nil
}

// wait blocks until the current generation's reader and writer goroutines
// have both exited. Safe to call after close/failConnection has signalled
// done; must never be called from within readLoop or writeLoop themselves.
func (t *transport) wait() {
	t.mu.Lock()
	eg := t.eg
	t.mu.Unlock()
	if eg != nil {
		eg.Wait()
	}
}

func parseWelcome(line string) (major, minor int) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.LastIndex(line, "/")
	if idx == -1 {
		return 0, 0
	}
	version := line[idx+1:]
	parts := strings.SplitN(version, ".", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	major, _ = strconv.Atoi(parts[0])
	minor, _ = strconv.Atoi(parts[1])
	return major, minor
}

func (t *transport) readLoop(done chan struct{}) {
	framer := NewFramer()
	buf := make([]byte, readBufSize)
	for {
		t.mu.Lock()
		conn := t.conn
		reader := t.reader
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, err := reader.Read(buf)
		if n > 0 {
			packets, ferr := framer.Feed(buf[:n])
			for _, p := range packets {
				t.packetHandler(p)
			}
			if ferr != nil {
				t.log.Debug().Err(ferr).Msg("framer error, continuing reader")
			}
		}
		if err != nil {
			t.failConnection(done, newNetwork(err))
			return
		}
	}
}

func (t *transport) writeLoop(done chan struct{}) {
	for {
		select {
		case job, ok := <-t.writeCh:
			if !ok {
				return
			}
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				job.errCh <- newDisconnected()
				continue
			}
			_, err := conn.Write(job.data)
			if err != nil {
				job.errCh <- newNetwork(err)
				t.failConnection(done, newNetwork(err))
				return
			}
			job.errCh <- nil
		case <-done:
			return
		}
	}
}

// write enqueues data for the single writer goroutine and waits for the
// flush to complete. Multiple callers may call write concurrently; writes
// are applied in enqueue order.
func (t *transport) write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	ch := t.writeCh
	closed := t.closed
	t.mu.Unlock()
	if closed || ch == nil {
		return newDisconnected()
	}

	job := writeJob{data: data, errCh: make(chan error, 1)}
	select {
	case ch <- job:
	case <-ctx.Done():
		return ctxErr(ctx)
	}
	select {
	case err := <-job.errCh:
		return err
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

// ctxErr maps a done context to the matching typed error: a deadline
// becomes a timeout, anything else (explicit cancellation) becomes
// cancelled, mirroring the distinction Session.Do makes for its own
// post-write wait.
func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return newTimeout()
	}
	return newCancelled()
}

// failConnection tears down the current connection and notifies the owner
// exactly once per connect() generation.
func (t *transport) failConnection(done chan struct{}, err error) {
	t.mu.Lock()
	if t.done != done || t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	close(t.done)
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.log.Info().Err(err).Msg("AMI connection lost")
	if t.disconnectHandler != nil {
		t.disconnectHandler(err)
	}
}

// close idempotently tears down the transport without reconnecting.
func (t *transport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.done != nil {
		close(t.done)
	}
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.wait()
}
