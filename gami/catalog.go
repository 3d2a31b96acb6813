package gami

import "strings"

// catalog binds action names to their default response shape.
// It is a convenience registry, not a gate: any action can be issued with
// an explicit WithShape override regardless of what (or whether) it is
// bound here. Actions not found default to ack("Success"), matching the
// catalog table's "all other named actions" row.
type catalog struct {
	shapes map[string]ResponseShape
}

func newCatalog() *catalog {
	c := &catalog{shapes: make(map[string]ResponseShape)}
	c.bind("Login", AckShape("Success"))
	c.bind("Logoff", AckShape("Goodbye"))
	c.bind("Ping", AckShape("Pong"))
	c.bind("Events", AckShape("Success"))
	c.bind("Challenge", StringShape("Challenge"))
	c.bind("GetVar", StringShape("Value"))
	c.bind("DBGet", StringShape("Val"))
	c.bind("MailboxCount", MapShape())
	c.bind("MailboxStatus", MapShape())
	c.bind("CoreStatus", MapShape())
	c.bind("CoreSettings", MapShape())
	c.bind("SIPShowPeer", MapShape())
	c.bind("ExtensionState", MapShape())
	c.bind("ListCommands", MapShape())
	c.bind("ListCategories", MapShape())
	c.bind("GetConfig", MapShape())
	c.bind("GetConfigJSON", MapShape())
	c.bind("Status", ListShape("Status", "StatusComplete", ""))
	c.bind("Agents", ListShape("Agents", "AgentsComplete", ""))
	c.bind("ParkedCalls", ListShape("ParkedCall", "ParkedCallsComplete", ""))
	c.bind("MeetmeList", ListShape("MeetmeList", "MeetmeListComplete", "ListItems"))
	c.bind("SIPpeers", ListShape("PeerEntry", "PeerlistComplete", "ListItems"))
	c.bind("IAXpeerlist", ListShape("PeerEntry", "PeerlistComplete", "ListItems"))
	c.bind("SIPshowregistry", ListShape("RegistryEntry", "RegistrationsComplete", "ListItems"))
	c.bind("CoreShowChannels", ListShape("CoreShowChannel", "CoreShowChannelsComplete", "ListItems"))
	c.bind("ZapShowChannels", ListShape("ZapShowChannels", "ZapShowChannelsComplete", ""))
	c.bind("DAHDIShowChannels", ListShape("DAHDIShowChannels", "DAHDIShowChannelsComplete", "Items"))
	c.bind("QueueSummary", ListShape("QueueSummary", "QueueSummaryComplete", ""))
	c.bind("QueueStatus", QueueStatusShape())
	c.bind("VoicemailUsersList", ListShape("VoicemailUserEntry", "VoicemailUserEntryComplete", ""))
	c.bind("Queues", QueuesShape())
	c.bind("Command", TextShape())
	return c
}

func (c *catalog) bind(action string, shape ResponseShape) {
	c.shapes[strings.ToLower(action)] = shape
}

func (c *catalog) shaperFor(action string) shaper {
	if shape, ok := c.shapes[strings.ToLower(action)]; ok {
		return shape.newShaper()
	}
	return newAckShape("Success")
}
