package gami

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	lineTerm    = "\r\n"
	packetTerm  = "\r\n\r\n"
	kvTerm      = ": "
	cmdEndMark  = "--END COMMAND--"
)

var packetTermBytes = []byte(packetTerm)

// Header is a single name/value pair, in the order it appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// Packet is an ordered sequence of headers terminated by a blank line, plus
// (for Response: Follows / Command output) the raw body lines that do not
// parse as headers.
//
// Header lookups are case-insensitive, matching AMI's inconsistent casing
// across server versions. Duplicate header names (notably Variable) are
// preserved in Headers and only the first occurrence is returned by Get.
type Packet struct {
	Headers []Header
	// Raw holds every line of the packet body verbatim, in order, including
	// lines that also parsed as headers. Used by the text shape to recover
	// free-form command output.
	Raw []string
}

// Get returns the value of the first header named name (case-insensitive)
// and whether it was present.
func (p *Packet) Get(name string) (string, bool) {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// GetAll returns every value recorded under name (case-insensitive), in
// parse order.
func (p *Packet) GetAll(name string) []string {
	var out []string
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Map returns the packet headers as a name->value map, excluding the names
// in exclude (case-insensitive). Duplicate names collapse to their first
// occurrence, matching the map shape's documented behavior.
func (p *Packet) Map(exclude ...string) map[string]string {
	out := make(map[string]string, len(p.Headers))
	for _, h := range p.Headers {
		skip := false
		for _, e := range exclude {
			if strings.EqualFold(h.Name, e) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if _, ok := out[h.Name]; ok {
			continue
		}
		out[h.Name] = h.Value
	}
	return out
}

// IsEvent reports whether the packet carries an Event header.
func (p *Packet) IsEvent() bool {
	_, ok := p.Get("Event")
	return ok
}

// IsResponse reports whether the packet carries a Response header.
func (p *Packet) IsResponse() bool {
	_, ok := p.Get("Response")
	return ok
}

// Framer decodes a byte stream into discrete Packets. It is not safe for
// concurrent use; the transport's single reader owns it exclusively.
type Framer struct {
	buf bytes.Buffer
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends bytes read from the socket and returns every complete packet
// that can now be extracted, in order. Incomplete trailing data is retained
// for the next call.
func (f *Framer) Feed(data []byte) ([]*Packet, error) {
	if _, err := f.buf.Write(data); err != nil {
		return nil, fmt.Errorf("gami: framer buffer write: %w", err)
	}

	var out []*Packet
	for {
		idx := bytes.Index(f.buf.Bytes(), packetTermBytes)
		if idx == -1 {
			break
		}
		raw := make([]byte, idx+len(packetTermBytes))
		n, err := f.buf.Read(raw)
		if err != nil || n != len(raw) {
			return out, fmt.Errorf("gami: framer short read of buffered packet")
		}
		pkt := parsePacket(raw)
		out = append(out, pkt)
	}
	return out, nil
}

// parsePacket splits a raw, terminator-included packet block into headers
// and raw lines. Lines without a ": " separator are kept in Raw but do not
// contribute a Header (defensive: AMI does not produce bare lines in normal
// headers, but Response: Follows / Command output bodies do). Blank lines
// are kept in Raw too, so a Command/Follows body that embeds one survives
// intact; only the single blank line introduced by the packet terminator
// itself is trimmed beforehand.
func parsePacket(raw []byte) *Packet {
	body := bytes.TrimSuffix(raw, packetTermBytes)
	pkt := &Packet{}
	if len(body) == 0 {
		return pkt
	}
	lines := bytes.Split(body, []byte(lineTerm))

	for _, line := range lines {
		s := string(line)
		pkt.Raw = append(pkt.Raw, s)
		if idx := strings.Index(s, kvTerm); idx >= 0 {
			pkt.Headers = append(pkt.Headers, Header{
				Name:  s[:idx],
				Value: s[idx+len(kvTerm):],
			})
		}
	}
	return pkt
}

// Encode serializes an outgoing request: action name first, then headers in
// the order supplied, then a terminating blank line. Header values must not
// contain \r or \n.
func Encode(action string, headers []Header) ([]byte, error) {
	if strings.ContainsAny(action, "\r\n") {
		return nil, newValidation("action name contains CR/LF")
	}
	var buf bytes.Buffer
	buf.WriteString("Action" + kvTerm)
	buf.WriteString(action)
	buf.WriteString(lineTerm)
	for _, h := range headers {
		if strings.ContainsAny(h.Value, "\r\n") || strings.ContainsAny(h.Name, "\r\n") {
			return nil, newValidation("header %q contains CR/LF", h.Name)
		}
		buf.WriteString(h.Name)
		buf.WriteString(kvTerm)
		buf.WriteString(h.Value)
		buf.WriteString(lineTerm)
	}
	buf.WriteString(lineTerm)
	return buf.Bytes(), nil
}

// stripFollowsBody trims the standard header lines and the trailing
// --END COMMAND-- marker from a Response: Follows / Command packet's raw
// body, returning the free-form text remainder.
func stripFollowsBody(p *Packet) string {
	var out []string
	for _, line := range p.Raw {
		if idx := strings.Index(line, kvTerm); idx >= 0 {
			name := line[:idx]
			if strings.EqualFold(name, "Response") || strings.EqualFold(name, "Message") ||
				strings.EqualFold(name, "Privilege") || strings.EqualFold(name, "ActionID") {
				continue
			}
		}
		if strings.TrimRight(line, "\r\n") == cmdEndMark {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
