// Package party implements parties: invitations, joining, leaving, kicks, leadership, and
// keeping a party alive while members reconnect. Every method must run on the action queue.
package party

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
)

// InviteReason is sent back to the inviter in a PartyInvite record.
type InviteReason int32

const (
	InviteNoAuthority InviteReason = 0
	InvitePartyFull   InviteReason = 1
	InviteInParty     InviteReason = 2
	InviteBusy        InviteReason = 3
	InviteSent        InviteReason = 4
)

// AcceptReason is a failure code in an AcceptInvite record. Codes 0 and 1 are the accept flag
// itself, sent to the inviter.
type AcceptReason uint8

const (
	AcceptPartyFull      AcceptReason = 2
	AcceptExpired        AcceptReason = 3
	AcceptInviterOffline AcceptReason = 4
)

// ErrInvalidSync is returned by SyncVitals for a payload that is not a vitals batch.
var ErrInvalidSync = errors.New("party: invalid members sync")

// Service owns the party state machine.
type Service struct {
	dir     *session.Directory
	maxSize int
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for invitation expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDs replaces the party id generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func New(dir *session.Directory, maxSize int, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger.Named("party"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PartyOf returns the party p belongs to.
func (s *Service) PartyOf(p *session.Player) (*session.Party, bool) {
	if !p.InParty() {
		return nil, false
	}
	party, ok := s.dir.Party(p.PartyID)
	if !ok {
		p.PartyID = ""
	}
	return party, ok
}

// Invite offers the player called targetName a place in sender's party, or a new party if
// sender has none. Only a leader may invite into an existing party.
func (s *Service) Invite(sender *session.Player, targetName string) {
	party, inParty := s.PartyOf(sender)
	if inParty {
		if party.LeaderID != sender.CharID {
			sender.Send(inviteReply(InviteNoAuthority))
			return
		}
		if party.IsFull(s.maxSize) {
			sender.Send(inviteReply(InvitePartyFull))
			return
		}
	}
	target, ok := s.dir.PlayerByName(targetName)
	if !ok || target == sender {
		s.logger.Debug("party invite: no such player", zap.String("from", sender.Name), zap.String("to", targetName))
		sender.Send(protocol.NewMessage(kephasmmo.OpNoSuchPlayer).Bytes())
		return
	}
	if target.InParty() {
		sender.Send(inviteReply(InviteInParty))
		return
	}
	now := s.now()
	if target.HasPendingInvitation(now) {
		sender.Send(inviteReply(InviteBusy))
		return
	}

	target.Invite(session.NewPartyInvitation(sender.Name, sender.PartyID, now))
	target.Send(protocol.NewMessage(kephasmmo.OpPartyInvite).Bool(true).Text(sender.Name).Bytes())
	sender.Send(inviteReply(InviteSent))
	s.logger.Debug("party invite sent", zap.String("from", sender.Name), zap.String("to", target.Name))
}

func inviteReply(reason InviteReason) []byte {
	return protocol.NewMessage(kephasmmo.OpPartyInvite).Bool(false).Int32(int32(reason)).Bytes()
}

func acceptReply(reason AcceptReason) []byte {
	return protocol.NewMessage(kephasmmo.OpAcceptInvite).Uint8(uint8(reason)).Bytes()
}

// AcceptInvite acts on an accepted party invitation. The invitation is already validated and
// cleared by the caller.
func (s *Service) AcceptInvite(p *session.Player, inv session.Invitation) {
	inviter, ok := s.dir.PlayerByName(inv.InviterName)
	if !ok {
		p.Send(acceptReply(AcceptInviterOffline))
		return
	}
	if p.InParty() {
		p.Send(acceptReply(AcceptExpired))
		return
	}

	if inv.PartyID != "" {
		party, ok := s.dir.Party(inv.PartyID)
		switch {
		case ok && party.IsFull(s.maxSize):
			p.Send(acceptReply(AcceptPartyFull))
		case ok:
			s.AddMember(party, p)
		case !inviter.InParty():
			s.form(inviter, p)
		default:
			p.Send(acceptReply(AcceptExpired))
		}
		return
	}

	party, ok := s.PartyOf(inviter)
	switch {
	case !ok:
		s.form(inviter, p)
	case party.LeaderID != inviter.CharID:
		p.Send(acceptReply(AcceptExpired))
	case party.IsFull(s.maxSize):
		p.Send(acceptReply(AcceptPartyFull))
	default:
		s.AddMember(party, p)
	}
}

func (s *Service) form(leader, member *session.Player) *session.Party {
	party := session.NewParty(s.newID(), leader, member)
	s.dir.AddParty(party)
	s.logger.Info("party formed", zap.String("party_id", party.ID), zap.String("leader", leader.Name))
	s.sendJoined(party, member)
	s.SendFullInfo(party)
	return party
}

// AddMember appends p to party and tells members and their game servers.
func (s *Service) AddMember(party *session.Party, p *session.Player) {
	if err := party.AddMember(p, s.maxSize); err != nil {
		s.logger.Debug("party add refused", zap.String("party_id", party.ID), zap.Error(err))
		if errors.Is(err, session.ErrPartyFull) {
			p.Send(acceptReply(AcceptPartyFull))
		}
		return
	}
	s.dir.ForgetDisconnectedParty(p.CharID)
	s.logger.Info("party joined", zap.String("party_id", party.ID), zap.String("player", p.Name))
	s.sendJoined(party, p)
	s.SendFullInfo(party)
}

// RemoveMember takes an online player out of their party.
func (s *Service) RemoveMember(p *session.Player, voluntary bool) {
	party, ok := s.PartyOf(p)
	if !ok {
		return
	}
	s.RemoveMemberByID(party, p.CharID, voluntary)
}

// RemoveMemberByID takes charID out of party whether or not that character is online. A party
// that would drop below two members is disbanded instead.
func (s *Service) RemoveMemberByID(party *session.Party, charID int, voluntary bool) {
	name := s.memberName(party, charID)
	disband, err := party.Remove(charID)
	if err != nil {
		return
	}
	if disband {
		s.sendLeft(party, name, voluntary)
		s.disband(party, false)
		return
	}
	if p, ok := s.online(party, charID); ok {
		p.PartyID = ""
		p.Send(leftMessage(name, voluntary))
	}
	s.dir.ForgetDisconnectedParty(charID)
	s.logger.Info("party left", zap.String("party_id", party.ID), zap.Int("char_id", charID), zap.Bool("voluntary", voluntary))
	s.sendLeft(party, name, voluntary)
	s.SendFullInfo(party)
}

// Disband lets a leader break up their party.
func (s *Service) Disband(p *session.Player) {
	party, ok := s.PartyOf(p)
	if !ok {
		return
	}
	if party.LeaderID != p.CharID {
		p.Send(notLeader())
		return
	}
	s.disband(party, true)
}

// disband clears party. Game servers of former members receive an empty party so they drop
// it; clients get PartyDisband only when notify is set.
func (s *Service) disband(party *session.Party, notify bool) {
	servers := s.involvedServers(party)
	for _, id := range party.Members() {
		p, ok := s.online(party, id)
		if !ok {
			continue
		}
		if notify {
			p.Send(protocol.NewMessage(kephasmmo.OpPartyDisband).Bytes())
		}
		p.PartyID = ""
	}
	party.Clear()
	s.dir.RemoveParty(party.ID)
	s.logger.Info("party disbanded", zap.String("party_id", party.ID))

	msg := s.fullInfoMessage(party)
	for _, conn := range servers {
		conn.Send(msg)
	}
}

// ChangeLeader hands leadership of p's party to newLeaderID.
func (s *Service) ChangeLeader(p *session.Player, newLeaderID int) {
	party, ok := s.PartyOf(p)
	if !ok {
		return
	}
	if party.LeaderID != p.CharID {
		p.Send(notLeader())
		return
	}
	if err := party.SetLeader(newLeaderID); err != nil {
		return
	}
	s.SendFullInfo(party)
	msg := protocol.NewMessage(kephasmmo.OpPartyChangeLeader).Bool(true).Text(s.memberName(party, newLeaderID)).Bytes()
	for _, m := range s.onlineMembers(party) {
		m.Send(msg)
	}
}

// Kick removes charID from p's party. Only the leader may kick.
func (s *Service) Kick(p *session.Player, charID int) {
	party, ok := s.PartyOf(p)
	if !ok || !party.HasMember(charID) {
		return
	}
	if party.LeaderID != p.CharID {
		p.Send(notLeader())
		return
	}
	s.RemoveMemberByID(party, charID, false)
}

// KickByName is Kick for an online player named name.
func (s *Service) KickByName(p *session.Player, name string) {
	target, ok := s.dir.PlayerByName(name)
	if !ok {
		return
	}
	s.Kick(p, target.CharID)
}

// Leave takes p out of their party voluntarily.
func (s *Service) Leave(p *session.Player) {
	s.RemoveMember(p, true)
}

// PlayerDisconnected detaches p from its party and remembers the party so a reconnect can
// relink it. It returns the party id, or "" if p had none. The caller must refresh the party
// with SendFullInfo once the directory no longer lists p as online.
func (s *Service) PlayerDisconnected(p *session.Player) string {
	party, ok := s.PartyOf(p)
	if !ok {
		return ""
	}
	s.dir.CacheDisconnectedParty(p.CharID, party.ID)
	p.PartyID = ""
	return party.ID
}

// PlayerReconnected relinks p to the party it had when it dropped, if that party still
// holds it. Other online members' servers get the refreshed party.
func (s *Service) PlayerReconnected(p *session.Player) {
	party, ok := s.dir.TakeDisconnectedParty(p.CharID)
	if !ok {
		return
	}
	p.PartyID = party.ID
	s.logger.Debug("party relinked", zap.String("party_id", party.ID), zap.String("player", p.Name))
	for _, m := range s.onlineMembers(party) {
		if m != p {
			s.SendFullInfo(party)
			return
		}
	}
}

// Refresh resends the full info of the party with id partyID, if it still exists.
func (s *Service) Refresh(partyID string) {
	if party, ok := s.dir.Party(partyID); ok {
		s.SendFullInfo(party)
	}
}

// SyncVitals applies a game server's vitals batch:
// {"Parties":[{"PartyId":"...","Members":[{"CharId":1,"CurHp":10,"MaxHp":20}]}]}.
func (s *Service) SyncVitals(payload string) error {
	if !gjson.Valid(payload) {
		return ErrInvalidSync
	}
	parties := gjson.Get(payload, "Parties")
	if !parties.IsArray() {
		return ErrInvalidSync
	}
	for _, entry := range parties.Array() {
		party, ok := s.dir.Party(entry.Get("PartyId").String())
		if !ok {
			continue
		}
		for _, m := range entry.Get("Members").Array() {
			party.UpdateVitals(int(m.Get("CharId").Int()), int(m.Get("CurHp").Int()), int(m.Get("MaxHp").Int()))
		}
	}
	return nil
}

// Message relays chat to p's party. The leader speaks on the leader channel.
func (s *Service) Message(p *session.Player, text string) {
	party, ok := s.PartyOf(p)
	if !ok {
		s.logger.Debug("party message outside a party", zap.String("player", p.Name))
		return
	}
	channel := session.ChannelParty
	if party.LeaderID == p.CharID {
		channel = session.ChannelPartyLeader
	}
	s.broadcastChat(party, channel, p.Name, text)
}

// LeaderMessage relays a leader announcement. Non-leaders are told they do not lead.
func (s *Service) LeaderMessage(p *session.Player, text string) {
	party, ok := s.PartyOf(p)
	if !ok {
		return
	}
	if party.LeaderID != p.CharID {
		p.Send(notLeader())
		return
	}
	s.broadcastChat(party, session.ChannelPartyLeader, p.Name, text)
}

func (s *Service) broadcastChat(party *session.Party, channel int, sender, text string) {
	msg := session.ChatMessage(channel, sender, session.TruncateChat(text), false)
	for _, m := range s.onlineMembers(party) {
		m.Send(msg)
	}
}

// SendFullInfo sends the party to every game server hosting one of its members.
func (s *Service) SendFullInfo(party *session.Party) {
	msg := s.fullInfoMessage(party)
	for _, conn := range s.involvedServers(party) {
		conn.Send(msg)
	}
}

type fullInfo struct {
	PartyID       string   `json:"PartyId"`
	LeaderID      int      `json:"LeaderId"`
	MemberIDs     []int    `json:"MemberIds"`
	MemberNames   []string `json:"MemberNames"`
	MembersOnline []bool   `json:"MembersOnline"`
	MemberCurHPs  []int    `json:"MemberCurHps"`
	MemberMaxHPs  []int    `json:"MemberMaxHps"`
}

// FullInfoJSON renders the party as game servers expect it. Hit points are the last values a
// game server synced, so a server can show members hosted elsewhere or offline.
func (s *Service) FullInfoJSON(party *session.Party) string {
	ids := party.Members()
	if ids == nil {
		ids = []int{}
	}
	info := fullInfo{
		PartyID:       party.ID,
		LeaderID:      party.LeaderID,
		MemberIDs:     ids,
		MemberNames:   make([]string, len(ids)),
		MembersOnline: make([]bool, len(ids)),
		MemberCurHPs:  make([]int, len(ids)),
		MemberMaxHPs:  make([]int, len(ids)),
	}
	for i, id := range ids {
		info.MemberNames[i] = s.memberName(party, id)
		_, info.MembersOnline[i] = s.online(party, id)
		v, _ := party.Vitals(id)
		info.MemberCurHPs[i], info.MemberMaxHPs[i] = v.CurHP, v.MaxHP
	}
	b, _ := json.Marshal(info)
	return string(b)
}

func (s *Service) fullInfoMessage(party *session.Party) []byte {
	return protocol.NewMessage(kephasmmo.OpPartyFullInfo).Text(s.FullInfoJSON(party)).Bytes()
}

func (s *Service) memberName(party *session.Party, charID int) string {
	if p, ok := s.dir.PlayerByCharID(charID); ok {
		return p.Name
	}
	return party.CachedName(charID)
}

// online returns the member's player if it is online and linked to party.
func (s *Service) online(party *session.Party, charID int) (*session.Player, bool) {
	p, ok := s.dir.PlayerByCharID(charID)
	if !ok || p.PartyID != party.ID {
		return nil, false
	}
	return p, true
}

func (s *Service) onlineMembers(party *session.Party) []*session.Player {
	var out []*session.Player
	for _, id := range party.Members() {
		if p, ok := s.online(party, id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) involvedServers(party *session.Party) []kephasmmo.Conn {
	var out []kephasmmo.Conn
	seen := make(map[*session.GameServer]bool)
	for _, id := range party.Members() {
		srv, ok := s.dir.ServerForChar(id)
		if !ok || seen[srv] {
			continue
		}
		seen[srv] = true
		out = append(out, srv.Conn)
	}
	return out
}

func (s *Service) sendJoined(party *session.Party, joiner *session.Player) {
	msg := protocol.NewMessage(kephasmmo.OpPartyJoin).Text(joiner.Name).Bytes()
	for _, m := range s.onlineMembers(party) {
		m.Send(msg)
	}
}

func leftMessage(name string, voluntary bool) []byte {
	return protocol.NewMessage(kephasmmo.OpPartyLeave).Text(name).Bool(voluntary).Bytes()
}

func (s *Service) sendLeft(party *session.Party, name string, voluntary bool) {
	msg := leftMessage(name, voluntary)
	for _, m := range s.onlineMembers(party) {
		m.Send(msg)
	}
}

func notLeader() []byte {
	return protocol.NewMessage(kephasmmo.OpPartyChangeLeader).Bool(false).Bytes()
}
