package gami

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventMask is a bitmask over the event categories AMI's Login and Events
// actions accept.
type EventMask uint16

const EventNone EventMask = 0

const (
	EventCall EventMask = 1 << iota
	EventCDR
	EventSystem
	EventAgent
	EventLog
	EventUser
)

// EventAll is the union of every event category.
const EventAll EventMask = EventCall | EventCDR | EventSystem | EventAgent | EventLog | EventUser

// encode applies Asterisk's version-gated event-mask encoding. On API
// versions >= 1.1 a non-trivial subset is a comma-separated lowercase list;
// "all" encodes as "on" and "none" as "off". On older versions only a
// single category can travel, chosen by priority
// user > log > agent > system > cdr > call; "all" still encodes as "on",
// "none" as "off".
func (m EventMask) encode(major, minor int) string {
	if m == EventNone {
		return "off"
	}
	if m == EventAll {
		return "on"
	}
	if major > 1 || (major == 1 && minor >= 1) {
		var names []string
		if m&EventCall != 0 {
			names = append(names, "call")
		}
		if m&EventCDR != 0 {
			names = append(names, "cdr")
		}
		if m&EventSystem != 0 {
			names = append(names, "system")
		}
		if m&EventAgent != 0 {
			names = append(names, "agent")
		}
		if m&EventLog != 0 {
			names = append(names, "log")
		}
		if m&EventUser != 0 {
			names = append(names, "user")
		}
		sort.Strings(names)
		return strings.Join(names, ",")
	}

	switch {
	case m&EventUser != 0:
		return "user"
	case m&EventLog != 0:
		return "log"
	case m&EventAgent != 0:
		return "agent"
	case m&EventSystem != 0:
		return "system"
	case m&EventCDR != 0:
		return "cdr"
	case m&EventCall != 0:
		return "call"
	default:
		return "off"
	}
}

// Credentials are the AMI login parameters. Either Secret or (Key with
// AuthType "md5") must be set; Key is md5(challenge || password), with
// challenge obtained via a prior Challenge action.
type Credentials struct {
	Username string
	Secret   string
	AuthType string
	Key      string
}

// Config configures a Session. Zero value fields take the documented
// defaults in NewSession.
type Config struct {
	Host    string
	Port    int
	Network string // defaults to "tcp"
	Dialer  Dialer          // defaults to &net.Dialer{}
	Logger  *zerolog.Logger // defaults to a silent zerolog.Nop() logger

	ReconnectMinBackoff time.Duration // defaults to 1s
	ReconnectMaxBackoff time.Duration // defaults to 30s
}

// Event is a parsed server-originated packet delivered to the event
// subscriber: either spontaneous, or a list item not claimed by any
// pending action's shaper.
type Event struct {
	Name    string
	Headers []Header
}

// Map returns the event's headers (minus Event) as a name->value map.
func (e Event) Map() map[string]string {
	out := make(map[string]string, len(e.Headers))
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, "Event") {
			continue
		}
		if _, ok := out[h.Name]; ok {
			continue
		}
		out[h.Name] = h.Value
	}
	return out
}

// Session is the lifetime of one AMI connection and its authenticated
// state: (host, port, credentials?, negotiated API version, event mask).
type Session struct {
	cfg     Config
	log     zerolog.Logger
	tokens  *tokenGenerator
	catalog *catalog

	transport  *transport
	correlator *correlator

	mu          sync.RWMutex
	creds       *Credentials
	eventMask   EventMask
	apiMajor    int
	apiMinor    int
	closed      bool
	reconnectOn bool
	eventSink   func(Event)

	backoff time.Duration
}

// NewSession constructs a Session from cfg. The session is not connected
// until Connect is called.
func NewSession(cfg Config) *Session {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	if cfg.ReconnectMinBackoff <= 0 {
		cfg.ReconnectMinBackoff = time.Second
	}
	if cfg.ReconnectMaxBackoff <= 0 {
		cfg.ReconnectMaxBackoff = 30 * time.Second
	}

	s := &Session{
		cfg:     cfg,
		log:     log,
		tokens:  newTokenGenerator(),
		catalog: newCatalog(),
		backoff: cfg.ReconnectMinBackoff,
	}
	s.correlator = newCorrelator(s.log, s.handleEvent)
	s.transport = newTransport(cfg.Dialer, cfg.Network, net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		s.log, s.correlator.dispatch, s.handleDisconnect)
	return s
}

// Events sets the subscriber invoked for every event packet not claimed by
// a pending action's shaper. Changing it takes effect under the same lock
// that protects the rest of session construction state.
func (s *Session) Events(sink func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSink = sink
}

func (s *Session) handleEvent(p *Packet) {
	s.mu.RLock()
	sink := s.eventSink
	s.mu.RUnlock()
	if sink == nil {
		return
	}
	name, _ := p.Get("Event")
	sink(Event{Name: name, Headers: p.Headers})
}

// Connect opens the TCP connection, reads the welcome line, and — if creds
// is non-nil — logs in. creds is retained for automatic re-login on
// reconnect; pass nil for an unauthenticated session.
func (s *Session) Connect(ctx context.Context, creds *Credentials) error {
	major, minor, err := s.transport.connect(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.apiMajor, s.apiMinor = major, minor
	s.creds = creds
	s.reconnectOn = creds != nil
	s.closed = false
	s.mu.Unlock()

	if creds != nil {
		if err := s.login(ctx, creds); err != nil {
			s.transport.close()
			return err
		}
	}
	return nil
}

func (s *Session) login(ctx context.Context, creds *Credentials) error {
	headers := []Header{{Name: "Username", Value: creds.Username}}
	if creds.AuthType == "md5" && creds.Key != "" {
		headers = append(headers,
			Header{Name: "AuthType", Value: "MD5"},
			Header{Name: "Key", Value: creds.Key})
	} else {
		headers = append(headers, Header{Name: "Secret", Value: creds.Secret})
	}
	_, err := s.Do(ctx, "Login", headers)
	return err
}

// Challenge requests an MD5 auth challenge and returns it, for use with
// MD5Key to build a Credentials.Key value.
func (s *Session) Challenge(ctx context.Context) (string, error) {
	v, err := s.Do(ctx, "Challenge", []Header{{Name: "AuthType", Value: "MD5"}})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// MD5Key computes md5(challenge || password) hex-encoded, as required by
// the md5 Login auth mode.
func MD5Key(challenge, password string) string {
	sum := md5.Sum([]byte(challenge + password))
	return hex.EncodeToString(sum[:])
}

// Ping issues the Ping keepalive action. The success literal depends on
// the negotiated API version: Success when major and minor are both
// non-zero, Pong otherwise.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.RLock()
	major, minor := s.apiMajor, s.apiMinor
	s.mu.RUnlock()

	literal := "Pong"
	if major != 0 && minor != 0 {
		literal = "Success"
	}
	_, err := s.Do(ctx, "Ping", nil, WithShape(AckShape(literal)))
	return err
}

// SetEventMask issues the Events action to change which event categories
// the server delivers, encoded per the negotiated API version.
func (s *Session) SetEventMask(ctx context.Context, mask EventMask) error {
	s.mu.RLock()
	major, minor := s.apiMajor, s.apiMinor
	s.mu.RUnlock()

	encoded := mask.encode(major, minor)
	literal := "Success"
	if encoded == "off" {
		literal = "Events Off"
	}
	_, err := s.Do(ctx, "Events", []Header{{Name: "EventMask", Value: encoded}}, WithShape(AckShape(literal)))
	if err == nil {
		s.mu.Lock()
		s.eventMask = mask
		s.mu.Unlock()
	}
	return err
}

// Logoff issues the Logoff action and then closes the transport. Automatic
// reconnection is disabled; call Connect again to start a new session.
func (s *Session) Logoff(ctx context.Context) error {
	_, err := s.Do(ctx, "Logoff", nil)
	s.Close()
	return err
}

// Close idempotently tears down the session: stops the reader and writer,
// closes the socket, and fails any still-pending actions. Does not attempt
// reconnection.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.reconnectOn = false
	s.mu.Unlock()

	s.transport.close()
	s.correlator.disconnectAll()
}

// handleDisconnect is the transport's disconnectHandler: it fails every
// pending action and, if credentials were supplied, schedules a bounded,
// cancellable reconnect attempt that re-issues Login on success.
func (s *Session) handleDisconnect(err error) {
	s.correlator.disconnectAll()

	s.mu.RLock()
	closed := s.closed
	reconnectOn := s.reconnectOn
	creds := s.creds
	s.mu.RUnlock()

	if closed || !reconnectOn {
		return
	}
	go s.reconnectLoop(creds)
}

// reconnectLoop retries transport.connect with exponential backoff bounded
// between cfg.ReconnectMinBackoff and cfg.ReconnectMaxBackoff, until it
// succeeds or the session is closed. It is cancellable only by Close,
// checked each iteration.
func (s *Session) reconnectLoop(creds *Credentials) {
	backoff := s.cfg.ReconnectMinBackoff
	for {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			return
		}

		time.Sleep(backoff)

		s.mu.RLock()
		closed = s.closed
		s.mu.RUnlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		major, minor, err := s.transport.connect(ctx)
		cancel()
		if err != nil {
			s.log.Info().Err(err).Msg("AMI reconnect attempt failed")
			backoff *= 2
			if backoff > s.cfg.ReconnectMaxBackoff {
				backoff = s.cfg.ReconnectMaxBackoff
			}
			continue
		}

		s.mu.Lock()
		s.apiMajor, s.apiMinor = major, minor
		s.mu.Unlock()

		if creds != nil {
			loginCtx, loginCancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.login(loginCtx, creds)
			loginCancel()
			if err != nil {
				s.log.Info().Err(err).Msg("AMI re-login after reconnect failed")
				s.transport.close()
				backoff *= 2
				if backoff > s.cfg.ReconnectMaxBackoff {
					backoff = s.cfg.ReconnectMaxBackoff
				}
				continue
			}
		}

		s.log.Info().Msg("AMI session reconnected")
		return
	}
}

func (s *Session) transportWrite(ctx context.Context, data []byte) error {
	return s.transport.write(ctx, data)
}
