package session

import "time"

// InvitationTTL is how long an invitation can be accepted after it was issued.
const InvitationTTL = 30 * time.Second

type InvitationKind uint8

const (
	GuildInvitation InvitationKind = iota + 1
	PartyInvitation
)

// Invitation is an offer to join a guild or a party. For party invitations an empty PartyID
// means the inviter had no party yet and one is formed on acceptance.
type Invitation struct {
	Kind        InvitationKind
	GuildID     int
	PartyID     string
	InviterName string
	IssuedAt    time.Time
}

func NewGuildInvitation(inviter string, guildID int, now time.Time) Invitation {
	return Invitation{Kind: GuildInvitation, GuildID: guildID, InviterName: inviter, IssuedAt: now}
}

func NewPartyInvitation(inviter, partyID string, now time.Time) Invitation {
	return Invitation{Kind: PartyInvitation, GuildID: NoGuild, PartyID: partyID, InviterName: inviter, IssuedAt: now}
}

// Expired reports whether the invitation can no longer be accepted at now.
func (i Invitation) Expired(now time.Time) bool {
	return now.Sub(i.IssuedAt) >= InvitationTTL
}
