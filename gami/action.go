package gami

import (
	"context"
	"strings"
)

// Result is the canonical outcome of an action, used by the
// completion-callback call style. Value's dynamic type depends on the
// action's shape (bool, string, map[string]string, []map[string]string,
// string for text, []QueueStatusEntry).
type Result struct {
	Success bool
	Message string
	Token   string
	Value   any
	Err     error
}

// CallOption customizes a single action invocation.
type CallOption func(*callConfig)

type callConfig struct {
	token string
	shape shaper
}

// WithToken supplies a caller-chosen correlation token instead of letting
// the session generate one. The token must be unique among currently
// pending actions.
func WithToken(token string) CallOption {
	return func(c *callConfig) { c.token = token }
}

// WithShape overrides the response shape the catalog would otherwise infer
// from the action name, for actions not in the catalog or for deliberately
// reshaping a known action.
func WithShape(s ResponseShape) CallOption {
	return func(c *callConfig) { c.shape = s.newShaper() }
}

// Do issues action with the given headers and blocks until the action
// completes, the context is cancelled, or its deadline expires. headers
// with an empty value are omitted from the wire request.
func (s *Session) Do(ctx context.Context, action string, headers []Header, opts ...CallOption) (any, error) {
	resultCh := make(chan outcome, 1)
	token, err := s.enqueue(ctx, action, headers, resultCh, opts...)
	if err != nil {
		return nil, err
	}

	select {
	case o := <-resultCh:
		if o.err != nil {
			return nil, o.err
		}
		return o.value, nil
	case <-ctx.Done():
		s.correlator.cancel(token)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, newTimeout()
		}
		return nil, newCancelled()
	}
}

// Go issues action and, once the action finishes or ctx is done, invokes
// complete on a goroutine that Go starts for this call, without blocking
// the caller past the write. complete does not run on the reader's
// goroutine.
func (s *Session) Go(ctx context.Context, action string, headers []Header, complete func(Result), opts ...CallOption) error {
	resultCh := make(chan outcome, 1)
	token, err := s.enqueue(ctx, action, headers, resultCh, opts...)
	if err != nil {
		return err
	}

	go func() {
		select {
		case o := <-resultCh:
			complete(toResult(token, o))
		case <-ctx.Done():
			s.correlator.cancel(token)
			var cerr error
			if ctx.Err() == context.DeadlineExceeded {
				cerr = newTimeout()
			} else {
				cerr = newCancelled()
			}
			complete(Result{Token: token, Err: cerr})
		}
	}()
	return nil
}

func toResult(token string, o outcome) Result {
	if o.err != nil {
		r := Result{Token: token, Err: o.err}
		if ae, ok := o.err.(*Error); ok {
			r.Message = ae.Message
		}
		return r
	}
	return Result{Success: true, Token: token, Value: o.value}
}

// enqueue builds the request, registers the pending action, and writes it.
// On write failure the pending action is cancelled before returning.
func (s *Session) enqueue(ctx context.Context, action string, headers []Header, resultCh chan outcome, opts ...CallOption) (string, error) {
	cfg := callConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	token := cfg.token
	if token == "" {
		token = s.tokens.generate()
	}

	sh := cfg.shape
	if sh == nil {
		sh = s.catalog.shaperFor(action)
		if strings.EqualFold(action, "Ping") {
			s.mu.RLock()
			major, minor := s.apiMajor, s.apiMinor
			s.mu.RUnlock()
			if major != 0 && minor != 0 {
				sh = newAckShape("Success")
			}
		}
	}

	full := append([]Header{{Name: "ActionID", Value: token}}, headers...)
	full = filterEmptyHeaders(full)

	data, err := Encode(action, full)
	if err != nil {
		return "", err
	}

	pa := &pendingAction{token: token, shape: sh, result: resultCh}
	s.correlator.register(pa)

	s.log.Debug().Str("action", action).Str("actionID", token).Msg("sending AMI action")
	if err := s.transportWrite(ctx, data); err != nil {
		s.correlator.cancel(token)
		return "", err
	}
	return token, nil
}

func filterEmptyHeaders(headers []Header) []Header {
	out := headers[:0:0]
	for _, h := range headers {
		if h.Value == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}
