package session

import (
	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
)

// Channel numbers understood by game clients.
const (
	ChannelSay          = 0
	ChannelGlobal       = 1
	ChannelGuild        = 5
	ChannelGuildOfficer = 7
	ChannelParty        = 8
	ChannelPartyLeader  = 9
)

// MaxChatLength is the longest chat message relayed, in runes.
const MaxChatLength = 255

// TruncateChat cuts s to MaxChatLength runes.
func TruncateChat(s string) string {
	r := []rune(s)
	if len(r) <= MaxChatLength {
		return s
	}
	return string(r[:MaxChatLength])
}

// ChatMessage encodes a MessageChannel record.
func ChatMessage(channel int, sender, text string, asGM bool) []byte {
	return protocol.NewMessage(kephasmmo.OpMessageChannel).
		Int(channel).
		Text(sender).
		Text(text).
		Bool(asGM).
		Bytes()
}
