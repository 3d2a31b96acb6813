package gami

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(headers ...Header) *Packet {
	p := &Packet{Headers: headers}
	for _, h := range headers {
		p.Raw = append(p.Raw, h.Name+": "+h.Value)
	}
	return p
}

func TestAckShapeSuccess(t *testing.T) {
	s := newAckShape("Pong")
	o := s.feed(pkt(Header{Name: "Response", Value: "Pong"}, Header{Name: "ActionID", Value: "z1"}))
	require.True(t, o.done)
	require.NoError(t, o.err)
	assert.Equal(t, true, o.value)
}

func TestAckShapeFailureCarriesMessage(t *testing.T) {
	s := newAckShape("Success")
	o := s.feed(pkt(Header{Name: "Response", Value: "Error"}, Header{Name: "Message", Value: "Authentication failed"}))
	require.True(t, o.done)
	require.Error(t, o.err)
	var gerr *Error
	require.ErrorAs(t, o.err, &gerr)
	assert.Equal(t, KindActionFailed, gerr.Kind)
	assert.Equal(t, "Authentication failed", gerr.Message)
}

func TestStringShapeMissingField(t *testing.T) {
	s := newStringShape("Value")
	o := s.feed(pkt(Header{Name: "Response", Value: "Success"}))
	require.True(t, o.done)
	require.Error(t, o.err)
}

func TestStringShapeSuccess(t *testing.T) {
	s := newStringShape("Value")
	o := s.feed(pkt(Header{Name: "Response", Value: "Success"}, Header{Name: "Value", Value: "42"}))
	require.True(t, o.done)
	require.NoError(t, o.err)
	assert.Equal(t, "42", o.value)
}

func TestMapShapeExcludesEnvelope(t *testing.T) {
	s := newMapShape()
	o := s.feed(pkt(
		Header{Name: "Response", Value: "Success"},
		Header{Name: "ActionID", Value: "z1"},
		Header{Name: "Calls", Value: "3"},
	))
	require.True(t, o.done)
	m := o.value.(map[string]string)
	assert.Equal(t, map[string]string{"Calls": "3"}, m)
}

// TestListShapeAccumulatesAcrossPackets covers the standard sequence: an ack
// packet, interleaved item events, then a terminator event.
func TestListShapeAccumulatesAcrossPackets(t *testing.T) {
	s := newListShape("ParkedCall", "ParkedCallsComplete", "")

	o := s.feed(pkt(Header{Name: "Response", Value: "Success"}))
	assert.False(t, o.done)

	o = s.feed(pkt(Header{Name: "Event", Value: "ParkedCall"}, Header{Name: "Channel", Value: "SIP/1"}))
	assert.False(t, o.done)
	o = s.feed(pkt(Header{Name: "Event", Value: "ParkedCall"}, Header{Name: "Channel", Value: "SIP/2"}))
	assert.False(t, o.done)

	o = s.feed(pkt(Header{Name: "Event", Value: "ParkedCallsComplete"}))
	require.True(t, o.done)
	require.NoError(t, o.err)
	items := o.value.([]map[string]string)
	require.Len(t, items, 2)
	assert.Equal(t, "SIP/1", items[0]["Channel"])
	assert.Equal(t, "SIP/2", items[1]["Channel"])
}

// TestListShapeTerminatorCountMismatchWarnsWithoutFailing covers a
// terminator event whose advertised item count disagrees with what was
// actually accumulated: the action still succeeds, but the outcome carries
// a non-empty warning for the caller to log.
func TestListShapeTerminatorCountMismatchWarnsWithoutFailing(t *testing.T) {
	s := newListShape("PeerEntry", "PeerlistComplete", "ListItems")
	s.feed(pkt(Header{Name: "Response", Value: "Success"}))
	s.feed(pkt(Header{Name: "Event", Value: "PeerEntry"}, Header{Name: "Channel", Value: "SIP/1"}))

	o := s.feed(pkt(Header{Name: "Event", Value: "PeerlistComplete"}, Header{Name: "ListItems", Value: "2"}))
	require.True(t, o.done)
	require.NoError(t, o.err)
	require.NotEmpty(t, o.warning)
	items := o.value.([]map[string]string)
	assert.Len(t, items, 1)
}

func TestListShapeTerminatorCountMatchHasNoWarning(t *testing.T) {
	s := newListShape("PeerEntry", "PeerlistComplete", "ListItems")
	s.feed(pkt(Header{Name: "Response", Value: "Success"}))
	s.feed(pkt(Header{Name: "Event", Value: "PeerEntry"}, Header{Name: "Channel", Value: "SIP/1"}))

	o := s.feed(pkt(Header{Name: "Event", Value: "PeerlistComplete"}, Header{Name: "ListItems", Value: "1"}))
	require.True(t, o.done)
	assert.Empty(t, o.warning)
}

// TestListShapeDeclinesForeignEvent: an unrelated event interleaved with
// list items must be declined, not swallowed.
func TestListShapeDeclinesForeignEvent(t *testing.T) {
	s := newListShape("ParkedCall", "ParkedCallsComplete", "")
	s.feed(pkt(Header{Name: "Response", Value: "Success"}))

	o := s.feed(pkt(Header{Name: "Event", Value: "Hangup"}, Header{Name: "Channel", Value: "SIP/9"}))
	assert.False(t, o.done)
	require.NotNil(t, o.event)
	assert.Equal(t, "Hangup", o.event.Headers[0].Value)
}

func TestTextShapeStripsFollowsBody(t *testing.T) {
	s := newTextShape()
	p := &Packet{Raw: []string{
		"Response: Follows",
		"Privilege: Command",
		"Core Version Info",
		"--END COMMAND--",
		"ActionID: z1",
	}}
	o := s.feed(p)
	require.True(t, o.done)
	require.NoError(t, o.err)
	assert.Equal(t, "Core Version Info", o.value)
}

// TestQueueStatusShapeNestsMembersUnderParams covers QueueMember events
// nesting under the most recently seen QueueParams entry.
func TestQueueStatusShapeNestsMembersUnderParams(t *testing.T) {
	s := newQueueStatusShape()
	s.feed(pkt(Header{Name: "Response", Value: "Success"}))

	o := s.feed(pkt(Header{Name: "Event", Value: "QueueParams"}, Header{Name: "Queue", Value: "support"}))
	assert.False(t, o.done)
	o = s.feed(pkt(Header{Name: "Event", Value: "QueueMember"}, Header{Name: "Location", Value: "SIP/200"}))
	assert.False(t, o.done)
	o = s.feed(pkt(Header{Name: "Event", Value: "QueueMember"}, Header{Name: "Location", Value: "SIP/201"}))
	assert.False(t, o.done)

	o = s.feed(pkt(Header{Name: "Event", Value: "QueueStatusComplete"}))
	require.True(t, o.done)
	entries := o.value.([]QueueStatusEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "support", entries[0].Params["Queue"])
	require.Len(t, entries[0].Members, 2)
	assert.Equal(t, "SIP/200", entries[0].Members[0]["Location"])
}

func TestQueueStatusShapeRejectsOrphanMember(t *testing.T) {
	s := newQueueStatusShape()
	s.feed(pkt(Header{Name: "Response", Value: "Success"}))
	o := s.feed(pkt(Header{Name: "Event", Value: "QueueMember"}, Header{Name: "Location", Value: "SIP/200"}))
	require.True(t, o.done)
	require.Error(t, o.err)
	var gerr *Error
	require.ErrorAs(t, o.err, &gerr)
	assert.Equal(t, KindProtocol, gerr.Kind)
}

func TestQueuesShapeJoinsRawPartsUntilEmptyPacket(t *testing.T) {
	s := newQueuesShape()
	o := s.feed(&Packet{Raw: []string{"Queue: support", "Strategy: ringall"}})
	assert.False(t, o.done)
	o = s.feed(&Packet{Raw: []string{"Queue: sales", "Strategy: leastrecent"}})
	assert.False(t, o.done)

	o = s.feed(&Packet{})
	require.True(t, o.done)
	assert.Equal(t, "Queue: support\nStrategy: ringall\r\n\r\nQueue: sales\nStrategy: leastrecent", o.value)
}

func TestAcceptsBareEvent(t *testing.T) {
	assert.True(t, acceptsBareEvent(newListShape("A", "B", "")))
	assert.True(t, acceptsBareEvent(newQueueStatusShape()))
	assert.True(t, acceptsBareEvent(newQueuesShape()))
	assert.False(t, acceptsBareEvent(newAckShape("Success")))
	assert.False(t, acceptsBareEvent(newStringShape("Value")))
	assert.False(t, acceptsBareEvent(newMapShape()))
}

func TestIsRawTextShape(t *testing.T) {
	assert.True(t, isRawTextShape(newQueuesShape()))
	assert.False(t, isRawTextShape(newListShape("A", "B", "")))
	assert.False(t, isRawTextShape(newAckShape("Success")))
}
