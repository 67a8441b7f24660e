package router

import (
	"go-livechat/internal/conversation"
	"go-livechat/internal/protocol"
)

// senderTable is the only place wire and local author names meet.
// It is a bijection: every wire sender has exactly one local name and back.
var senderTable = []struct {
	wire  protocol.Sender
	local conversation.Sender
}{
	{protocol.SenderCustomer, conversation.SenderCustomer},
	{protocol.SenderAdmin, conversation.SenderSupport},
	{protocol.SenderSystem, conversation.SenderSystem},
}

// ToLocal maps a wire sender to the local vocabulary.
func ToLocal(s protocol.Sender) (conversation.Sender, bool) {
	for _, row := range senderTable {
		if row.wire == s {
			return row.local, true
		}
	}
	return "", false
}

// ToWire maps a local sender to the wire vocabulary.
func ToWire(s conversation.Sender) (protocol.Sender, bool) {
	for _, row := range senderTable {
		if row.local == s {
			return row.wire, true
		}
	}
	return "", false
}

// SelfSender returns the wire sender a role writes its own messages as.
func SelfSender(role protocol.Role) protocol.Sender {
	if role == protocol.RoleAdmin {
		return protocol.SenderAdmin
	}
	return protocol.SenderCustomer
}

// LocalSelf returns the local sender a role writes its own messages as.
func LocalSelf(role protocol.Role) conversation.Sender {
	local, _ := ToLocal(SelfSender(role))
	return local
}
