package gami

import (
	"fmt"
	"strconv"
	"strings"
)

// outcome is the result of handing one packet to a shaper.
type outcome struct {
	// done is false while the shaper wants more packets.
	done bool
	// event, when non-nil, is a spontaneous packet the shaper is declining
	// to consume; the correlator delivers it to the event subscriber
	// instead of treating it as progress on this action.
	event *Packet
	value any
	err   error
	// warning, when non-empty, is a non-fatal anomaly the shaper noticed
	// while completing successfully (e.g. a terminator's advertised item
	// count not matching what was actually accumulated). The correlator
	// logs it; it never affects the action's result.
	warning string
}

func needMore() outcome { return outcome{} }

func declineAsEvent(p *Packet) outcome { return outcome{done: false, event: p} }

func completedOK(v any) outcome { return outcome{done: true, value: v} }

func completedOKWithWarning(v any, warning string) outcome {
	return outcome{done: true, value: v, warning: warning}
}

func completedFail(err error) outcome { return outcome{done: true, err: err} }

// shaper is a pure state machine: it consumes one packet at a time and
// decides whether it has enough information to complete the action. It
// never touches the network and never blocks.
type shaper interface {
	// feed is called once per packet routed to this action by the
	// correlator.
	feed(p *Packet) outcome
}

// ---- ack ----

type ackShape struct {
	expect string
}

func newAckShape(expect string) *ackShape { return &ackShape{expect: expect} }

func (s *ackShape) feed(p *Packet) outcome {
	resp, _ := p.Get("Response")
	if resp == s.expect {
		return completedOK(true)
	}
	msg, _ := p.Get("Message")
	return completedFail(newActionFailed(msg))
}

// ---- string ----

type stringShape struct {
	field string
}

func newStringShape(field string) *stringShape { return &stringShape{field: field} }

func (s *stringShape) feed(p *Packet) outcome {
	resp, _ := p.Get("Response")
	if resp != "Success" {
		msg, _ := p.Get("Message")
		return completedFail(newActionFailed(msg))
	}
	val, ok := p.Get(s.field)
	if !ok || val == "" {
		return completedFail(newActionFailed("missing " + s.field + " field"))
	}
	return completedOK(val)
}

// ---- map ----

type mapShape struct{}

func newMapShape() *mapShape { return &mapShape{} }

func (s *mapShape) feed(p *Packet) outcome {
	resp, _ := p.Get("Response")
	if resp != "Success" {
		msg, _ := p.Get("Message")
		return completedFail(newActionFailed(msg))
	}
	return completedOK(p.Map("Response", "Message", "ActionID"))
}

// ---- list ----

// listShape accumulates an ack packet followed by itemEvent packets and a
// terminatorEvent packet. countField, if set, names a header on the
// terminator whose integer value is compared (non-fatally) against the
// accumulated item count.
type listShape struct {
	itemEvent       string
	terminatorEvent string
	countField      string

	ackSeen bool
	items   []map[string]string
}

func newListShape(itemEvent, terminatorEvent, countField string) *listShape {
	return &listShape{itemEvent: itemEvent, terminatorEvent: terminatorEvent, countField: countField}
}

func (s *listShape) feed(p *Packet) outcome {
	if !s.ackSeen {
		resp, _ := p.Get("Response")
		if resp != "Success" {
			msg, _ := p.Get("Message")
			return completedFail(newActionFailed(msg))
		}
		s.ackSeen = true
		return needMore()
	}

	ev, isEvent := p.Get("Event")
	if !isEvent {
		return declineAsEvent(p)
	}
	switch ev {
	case s.itemEvent:
		s.items = append(s.items, p.Map("Event"))
		return needMore()
	case s.terminatorEvent:
		if s.countField != "" {
			if want, ok := p.Get(s.countField); ok {
				if n, err := strconv.Atoi(want); err == nil && n != len(s.items) {
					return completedOKWithWarning(s.items, fmt.Sprintf(
						"%s declared %d items via %s but %d were received", s.terminatorEvent, n, s.countField, len(s.items)))
				}
			}
		}
		return completedOK(s.items)
	default:
		return declineAsEvent(p)
	}
}

// ---- text ----

type textShape struct {
	done bool
	text string
}

func newTextShape() *textShape { return &textShape{} }

func (s *textShape) feed(p *Packet) outcome {
	resp, _ := p.Get("Response")
	if resp == "Error" {
		msg, _ := p.Get("Message")
		return completedFail(newActionFailed(msg))
	}
	return completedOK(stripFollowsBody(p))
}

// ---- queue-status ----

// QueueStatusEntry pairs a QueueParams event's map with the QueueMember
// events that followed it, in receipt order.
type QueueStatusEntry struct {
	Params  map[string]string
	Members []map[string]string
}

type queueStatusShape struct {
	ackSeen bool
	entries []QueueStatusEntry
}

func newQueueStatusShape() *queueStatusShape { return &queueStatusShape{} }

func (s *queueStatusShape) feed(p *Packet) outcome {
	if !s.ackSeen {
		resp, _ := p.Get("Response")
		if resp != "Success" {
			msg, _ := p.Get("Message")
			return completedFail(newActionFailed(msg))
		}
		s.ackSeen = true
		return needMore()
	}

	ev, isEvent := p.Get("Event")
	if !isEvent {
		return declineAsEvent(p)
	}
	switch ev {
	case "QueueParams":
		s.entries = append(s.entries, QueueStatusEntry{Params: p.Map("Event")})
		return needMore()
	case "QueueMember":
		if len(s.entries) == 0 {
			return completedFail(newProtocolError("QueueMember event received before any QueueParams"))
		}
		last := &s.entries[len(s.entries)-1]
		last.Members = append(last.Members, p.Map("Event"))
		return needMore()
	case "QueueStatusComplete":
		return completedOK(s.entries)
	default:
		return declineAsEvent(p)
	}
}

// acceptsBareEvent reports whether s is a multi-packet shape that can
// legitimately continue on an Event packet carrying no ActionID: older
// servers omit ActionID on list items. Single-packet shapes
// (ack/string/map/text) never expect a second packet, so a stray
// ActionID-less event routed to them would be misread as their answer;
// the correlator instead delivers such packets as spontaneous events.
func acceptsBareEvent(s shaper) bool {
	switch s.(type) {
	case *listShape, *queueStatusShape, *queuesShape:
		return true
	default:
		return false
	}
}

// isRawTextShape reports whether s is the "queues" shape, whose body and
// terminating packets carry no Response/Event header at all.
func isRawTextShape(s shaper) bool {
	_, ok := s.(*queuesShape)
	return ok
}

// ---- public shape descriptor ----

type shapeKind int

const (
	shapeAck shapeKind = iota
	shapeString
	shapeMap
	shapeList
	shapeText
	shapeQueueStatus
	shapeQueues
)

// ResponseShape names the protocol-level pattern by which a response is
// assembled. Construct one with the matching constructor (AckShape,
// StringShape, MapShape, ListShape, TextShape, QueueStatusShape,
// QueuesShape) and pass it to WithShape, or let the catalog infer one from
// the action name.
type ResponseShape struct {
	kind            shapeKind
	ackLiteral      string
	field           string
	itemEvent       string
	terminatorEvent string
	countField      string
}

// AckShape expects a single response packet; success iff Response equals
// literal (e.g. "Success", "Pong", "Goodbye", "Events Off").
func AckShape(literal string) ResponseShape {
	return ResponseShape{kind: shapeAck, ackLiteral: literal}
}

// StringShape expects a single Response: Success packet carrying field;
// the result is that field's value.
func StringShape(field string) ResponseShape {
	return ResponseShape{kind: shapeString, field: field}
}

// MapShape expects a single Response: Success packet; the result is the
// packet's headers minus Response, Message, ActionID.
func MapShape() ResponseShape {
	return ResponseShape{kind: shapeMap}
}

// ListShape expects an ack, zero or more itemEvent packets, and a
// terminatorEvent packet. countField, if non-empty, names a header on the
// terminator carrying the expected item count (mismatch is non-fatal).
func ListShape(itemEvent, terminatorEvent, countField string) ResponseShape {
	return ResponseShape{kind: shapeList, itemEvent: itemEvent, terminatorEvent: terminatorEvent, countField: countField}
}

// TextShape expects a single packet whose raw body, after the standard
// headers and any trailing --END COMMAND-- marker, is the result.
func TextShape() ResponseShape {
	return ResponseShape{kind: shapeText}
}

// QueueStatusShape expects an ack followed by interleaved QueueParams /
// QueueMember events terminated by QueueStatusComplete.
func QueueStatusShape() ResponseShape {
	return ResponseShape{kind: shapeQueueStatus}
}

// QueuesShape accumulates raw packet bodies separated by "\r\n\r\n" until
// an empty packet signals end of stream (used by the Queues action, which
// has no discrete terminator event).
func QueuesShape() ResponseShape {
	return ResponseShape{kind: shapeQueues}
}

func (r ResponseShape) newShaper() shaper {
	switch r.kind {
	case shapeAck:
		return newAckShape(r.ackLiteral)
	case shapeString:
		return newStringShape(r.field)
	case shapeMap:
		return newMapShape()
	case shapeList:
		return newListShape(r.itemEvent, r.terminatorEvent, r.countField)
	case shapeText:
		return newTextShape()
	case shapeQueueStatus:
		return newQueueStatusShape()
	case shapeQueues:
		return newQueuesShape()
	default:
		return newAckShape("Success")
	}
}

// ---- queues (multi-packet text accumulator, no discrete terminator) ----

type queuesShape struct {
	parts []string
}

func newQueuesShape() *queuesShape { return &queuesShape{} }

func (s *queuesShape) feed(p *Packet) outcome {
	if len(p.Raw) == 0 {
		return completedOK(strings.Join(s.parts, "\r\n\r\n"))
	}
	s.parts = append(s.parts, strings.Join(p.Raw, "\n"))
	return needMore()
}
