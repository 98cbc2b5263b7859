// Package guild implements guild membership: creation, invitations, ranks, kicks, leaving and
// disbanding. Every method must run on the action queue.
//
// Storage is always written before memory is touched. A failed write leaves the in-memory
// guild as it was and is logged; the caller sees no partial change.
package guild

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

// InviteReason is sent back to the inviter in a GuildInvite record.
type InviteReason int32

const (
	InviteTargetInGuild InviteReason = 0
	InviteTargetBusy    InviteReason = 1
	InviteSent          InviteReason = 2
)

// Refusal tells the initiator of a GuildCreate, GuildAdjustRank or GuildKick why nothing
// happened. It follows a false success flag.
type Refusal int32

const (
	RefusedNotInGuild Refusal = iota
	RefusedNotOfficer
	RefusedNotJunior
	RefusedNoSuchMember
	RefusedRankBounds
	RefusedLastLeader
	RefusedInGuild
	RefusedInvalidName
	RefusedNameTaken
	RefusedFailed
)

func refuse(op kephasmmo.Opcode, reason Refusal) []byte {
	return protocol.NewMessage(op).Bool(false).Int32(int32(reason)).Bytes()
}

// LeaderRank is the rank of a guild leader. Lower ranks are more senior.
const LeaderRank = 0

// Config holds the guild rank settings.
type Config struct {
	// DefaultRank is given to new members and is the most junior rank.
	DefaultRank int
	// OfficerRank and anything more senior may invite, kick and adjust ranks.
	OfficerRank int
}

// Service owns the guild state machine.
type Service struct {
	dir    *session.Directory
	store  storage.GuildStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for invitation expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(dir *session.Directory, store storage.GuildStore, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		dir:    dir,
		store:  store,
		cfg:    cfg,
		logger: logger.Named("guild"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load populates the directory with every stored guild.
func (s *Service) Load(ctx context.Context) error {
	guilds, err := s.store.Guilds(ctx)
	if err != nil {
		return err
	}
	for _, rec := range guilds {
		g := session.NewGuild(rec.ID, rec.Name)
		for _, m := range rec.Members {
			g.Populate(m.CharID, m.Name, m.Rank)
		}
		s.dir.AddGuild(g)
	}
	s.logger.Info("guilds loaded", zap.Int("count", len(guilds)))
	return nil
}

func (s *Service) guildOf(p *session.Player) (*session.Guild, bool) {
	if !p.InGuild() {
		return nil, false
	}
	return s.dir.Guild(p.GuildID)
}

func (s *Service) isOfficer(p *session.Player) bool {
	return p.GuildRank >= LeaderRank && p.GuildRank <= s.cfg.OfficerRank
}

// Create founds a guild with p as its leader. The name is sanitized first.
func (s *Service) Create(ctx context.Context, p *session.Player, name string) {
	const op = kephasmmo.OpGuildCreate
	if p.InGuild() {
		p.Send(refuse(op, RefusedInGuild))
		return
	}
	name = SanitizeName(name)
	if !ValidName(name) {
		p.Send(refuse(op, RefusedInvalidName))
		return
	}
	if _, taken := s.dir.GuildByName(name); taken {
		p.Send(refuse(op, RefusedNameTaken))
		return
	}

	id, err := s.store.CreateGuild(ctx, name, p.CharID)
	if errors.Is(err, storage.ErrNameTaken) {
		p.Send(refuse(op, RefusedNameTaken))
		return
	}
	if err != nil {
		s.logger.Error("create guild", zap.String("name", name), zap.Error(err))
		p.Send(refuse(op, RefusedFailed))
		return
	}

	g := session.NewGuild(id, name)
	g.AddMember(p, LeaderRank)
	s.dir.AddGuild(g)
	s.logger.Info("guild created", zap.String("guild", name), zap.String("leader", p.Name))

	p.Send(protocol.NewMessage(kephasmmo.OpGuildCreate).Bool(true).Bytes())
	s.sendRoster(g)
	s.dir.BroadcastServers(memberUpdateForServers(p.CharID, g.Name, g.ID, LeaderRank))
}

// Invite offers membership in the sender's guild to the player called targetName.
func (s *Service) Invite(sender *session.Player, targetName string) {
	g, ok := s.guildOf(sender)
	if !ok || !s.isOfficer(sender) {
		return
	}
	target, ok := s.dir.PlayerByName(targetName)
	if !ok {
		s.logger.Debug("guild invite: no such player", zap.String("from", sender.Name), zap.String("to", targetName))
		sender.Send(protocol.NewMessage(kephasmmo.OpNoSuchPlayer).Bytes())
		return
	}
	if target.InGuild() {
		sender.Send(inviteReply(InviteTargetInGuild))
		return
	}
	now := s.now()
	if target.HasPendingInvitation(now) {
		sender.Send(inviteReply(InviteTargetBusy))
		return
	}

	target.Invite(session.NewGuildInvitation(sender.Name, g.ID, now))
	target.Send(protocol.NewMessage(kephasmmo.OpGuildInvite).Bool(true).Text(sender.Name).Text(g.Name).Bytes())
	sender.Send(inviteReply(InviteSent))
	s.logger.Debug("guild invite sent", zap.String("from", sender.Name), zap.String("to", target.Name))
}

func inviteReply(reason InviteReason) []byte {
	return protocol.NewMessage(kephasmmo.OpGuildInvite).Bool(false).Int32(int32(reason)).Bytes()
}

// AcceptInvite joins p to the guild named in inv. The invitation is already validated and
// cleared by the caller. It does nothing if the guild is gone or p joined another meanwhile.
func (s *Service) AcceptInvite(ctx context.Context, p *session.Player, inv session.Invitation) {
	g, ok := s.dir.Guild(inv.GuildID)
	if !ok || p.InGuild() {
		return
	}
	rank := s.cfg.DefaultRank
	if err := s.store.AddGuildMember(ctx, g.ID, p.CharID, rank); err != nil {
		s.logger.Error("add guild member", zap.Int("guild_id", g.ID), zap.Int("char_id", p.CharID), zap.Error(err))
		return
	}
	g.AddMember(p, rank)
	s.logger.Info("guild joined", zap.String("guild", g.Name), zap.String("player", p.Name))

	roster := rosterMessage(g)
	joined := protocol.NewMessage(kephasmmo.OpGuildMemberJoined).Text(p.Name).Bytes()
	for _, m := range g.OnlineMembers() {
		m.Send(roster)
		if m != p {
			m.Send(joined)
		}
	}
	s.dir.BroadcastServers(memberUpdateForServers(p.CharID, g.Name, g.ID, rank))
}

// AdjustRank promotes (increase) or demotes the member called targetName by one rank.
// Officers may only adjust members junior to them, except that anyone may demote themselves.
// The last leader cannot demote themselves. A refused adjustment is answered with its Refusal.
func (s *Service) AdjustRank(ctx context.Context, initiator *session.Player, targetName string, increase bool) {
	const op = kephasmmo.OpGuildAdjustRank
	g, ok := s.guildOf(initiator)
	if !ok {
		initiator.Send(refuse(op, RefusedNotInGuild))
		return
	}
	if !s.isOfficer(initiator) {
		initiator.Send(refuse(op, RefusedNotOfficer))
		return
	}
	target, ok := g.MemberByName(targetName)
	if !ok {
		initiator.Send(refuse(op, RefusedNoSuchMember))
		return
	}
	self := target.CharID == initiator.CharID
	if target.Rank <= initiator.GuildRank && (increase || !self) {
		initiator.Send(refuse(op, RefusedNotJunior))
		return
	}
	newRank := target.Rank + 1
	if increase {
		newRank = target.Rank - 1
	}
	if newRank < LeaderRank || newRank > s.cfg.DefaultRank {
		s.logger.Debug("rank out of bounds", zap.String("by", initiator.Name), zap.Int("rank", newRank))
		initiator.Send(refuse(op, RefusedRankBounds))
		return
	}
	if self && !increase && initiator.GuildRank == LeaderRank && g.LeaderCount() == 1 {
		initiator.Send(refuse(op, RefusedLastLeader))
		return
	}

	if err := s.store.SetGuildRank(ctx, target.CharID, newRank); err != nil {
		s.logger.Error("set guild rank", zap.Int("char_id", target.CharID), zap.Error(err))
		initiator.Send(refuse(op, RefusedFailed))
		return
	}
	g.SetRank(target.CharID, newRank)
	s.logger.Info("guild rank changed",
		zap.String("by", initiator.Name),
		zap.String("member", target.Name),
		zap.Int("rank", newRank))

	_, online := s.dir.PlayerByCharID(target.CharID)
	if online {
		s.dir.BroadcastServers(memberUpdateForServers(target.CharID, g.Name, g.ID, newRank))
	}
	update := protocol.NewMessage(kephasmmo.OpGuildMemberUpdate).Int(target.CharID).Int(newRank).Bool(online).Bytes()
	adjusted := protocol.NewMessage(op).Bool(true).Bool(increase).Text(target.Name).Bytes()
	for _, m := range g.OnlineMembers() {
		m.Send(update)
		m.Send(adjusted)
	}
}

// Kick removes a more junior member, online or not. Every online member, the kicked one
// included, gets GuildKick{true, name, isYou}; a refused kick is answered with its Refusal.
func (s *Service) Kick(ctx context.Context, initiator *session.Player, targetName string) {
	const op = kephasmmo.OpGuildKick
	g, ok := s.guildOf(initiator)
	if !ok {
		initiator.Send(refuse(op, RefusedNotInGuild))
		return
	}
	if !s.isOfficer(initiator) {
		initiator.Send(refuse(op, RefusedNotOfficer))
		return
	}
	target, ok := g.MemberByName(targetName)
	if !ok {
		initiator.Send(refuse(op, RefusedNoSuchMember))
		return
	}
	if target.Rank <= initiator.GuildRank {
		initiator.Send(refuse(op, RefusedNotJunior))
		return
	}

	if err := s.store.RemoveGuildMember(ctx, target.CharID, storage.NoGuild); err != nil {
		s.logger.Error("kick guild member", zap.Int("char_id", target.CharID), zap.Error(err))
		initiator.Send(refuse(op, RefusedFailed))
		return
	}
	kicked, online := s.dir.PlayerByCharID(target.CharID)
	g.RemoveMember(target.CharID)
	s.logger.Info("guild member kicked", zap.String("by", initiator.Name), zap.String("member", target.Name))

	if online {
		s.dir.BroadcastServers(memberUpdateForServers(target.CharID, "", session.NoGuild, session.NoGuild))
	}
	roster := rosterMessage(g)
	left := protocol.NewMessage(op).Bool(true).Text(target.Name).Bool(false).Bytes()
	for _, m := range g.OnlineMembers() {
		m.Send(roster)
		m.Send(left)
	}
	if online {
		kicked.Send(protocol.NewMessage(op).Bool(true).Text(target.Name).Bool(true).Bytes())
	}
}

// Leave removes p from its guild. A leaving sole leader hands the guild to the most senior
// remaining member in the same storage transaction; the last member leaving deletes it.
func (s *Service) Leave(ctx context.Context, p *session.Player) {
	g, ok := s.guildOf(p)
	if !ok {
		return
	}
	charID, name := p.CharID, p.Name
	if err := s.remove(ctx, g, charID); err != nil {
		s.logger.Error("leave guild", zap.Int("char_id", charID), zap.Error(err))
		return
	}
	p.GuildID, p.GuildRank = session.NoGuild, session.NoGuild
	s.logger.Info("guild left", zap.String("guild", g.Name), zap.String("player", name))

	s.dir.BroadcastServers(memberUpdateForServers(charID, "", session.NoGuild, session.NoGuild))
	p.Send(protocol.NewMessage(kephasmmo.OpGuildLeave).Bool(true).Bytes())
	if g.Len() == 0 {
		return
	}
	roster := rosterMessage(g)
	left := protocol.NewMessage(kephasmmo.OpGuildLeave).Bool(false).Text(name).Bytes()
	for _, m := range g.OnlineMembers() {
		m.Send(roster)
		m.Send(left)
	}
}

// RemoveCharacter takes a deleted character out of its guild with the same leadership rules as
// Leave. The character is offline, so only the remaining members are told.
func (s *Service) RemoveCharacter(ctx context.Context, guildID, charID int) error {
	g, ok := s.dir.Guild(guildID)
	if !ok {
		return nil
	}
	m, ok := g.Member(charID)
	if !ok {
		return nil
	}
	if err := s.remove(ctx, g, charID); err != nil {
		return err
	}
	if g.Len() == 0 {
		return nil
	}
	roster := rosterMessage(g)
	left := protocol.NewMessage(kephasmmo.OpGuildLeave).Bool(false).Text(m.Name).Bytes()
	for _, online := range g.OnlineMembers() {
		online.Send(roster)
		online.Send(left)
	}
	return nil
}

// remove writes the departure (and any leader succession) to storage, then applies it to g.
// An emptied guild is deleted from storage and the directory.
func (s *Service) remove(ctx context.Context, g *session.Guild, charID int) error {
	m, _ := g.Member(charID)
	if g.Len() == 1 {
		if err := s.store.DisbandGuild(ctx, g.ID); err != nil {
			return err
		}
		g.RemoveMember(charID)
		s.dir.RemoveGuild(g.ID)
		s.logger.Info("guild deleted", zap.String("guild", g.Name))
		return nil
	}

	successor := storage.NoGuild
	if m.Rank == LeaderRank && g.LeaderCount() == 1 {
		successor = g.Successor(charID)
	}
	if err := s.store.RemoveGuildMember(ctx, charID, successor); err != nil {
		return err
	}
	g.RemoveMember(charID)
	if successor != storage.NoGuild {
		g.SetRank(successor, LeaderRank)
		s.dir.BroadcastServers(memberUpdateForServers(successor, g.Name, g.ID, LeaderRank))
		s.logger.Info("guild leader succeeded", zap.String("guild", g.Name), zap.Int("char_id", successor))
	}
	return nil
}

// Disband deletes p's guild. Only a sole leader may disband.
func (s *Service) Disband(ctx context.Context, p *session.Player) {
	g, ok := s.guildOf(p)
	if !ok {
		return
	}
	if p.GuildRank != LeaderRank || g.LeaderCount() > 1 {
		s.logger.Warn("guild disband refused", zap.String("player", p.Name), zap.String("guild", g.Name))
		return
	}
	if err := s.store.DisbandGuild(ctx, g.ID); err != nil {
		s.logger.Error("disband guild", zap.Int("guild_id", g.ID), zap.Error(err))
		return
	}

	online := g.OnlineMembers()
	ids := g.MemberIDs()
	for _, id := range ids {
		g.RemoveMember(id)
	}
	s.dir.RemoveGuild(g.ID)
	s.logger.Info("guild disbanded", zap.String("guild", g.Name), zap.String("by", p.Name))

	s.dir.BroadcastServers(protocol.NewMessage(kephasmmo.OpGuildDisband).Ints(ids).Bytes())
	msg := protocol.NewMessage(kephasmmo.OpGuildDisband).Bytes()
	for _, m := range online {
		m.Send(msg)
	}
}

// PlayerConnected marks p online in its guild and sends the roster to everyone online. A
// player whose guild no longer lists them is made guildless.
func (s *Service) PlayerConnected(p *session.Player) {
	g, ok := s.guildOf(p)
	if !ok {
		if p.InGuild() {
			p.GuildID, p.GuildRank = session.NoGuild, session.NoGuild
		}
		return
	}
	if !g.SetOnline(p) {
		p.GuildID, p.GuildRank = session.NoGuild, session.NoGuild
		return
	}
	s.sendRoster(g)
}

// PlayerDisconnected marks p offline and tells the remaining members.
func (s *Service) PlayerDisconnected(p *session.Player) {
	g, ok := s.guildOf(p)
	if !ok {
		return
	}
	g.SetOffline(p)
	s.sendRoster(g)
}

// Message relays chat to every online member of p's guild.
func (s *Service) Message(p *session.Player, text string) {
	g, ok := s.guildOf(p)
	if !ok {
		s.logger.Debug("guild message outside a guild", zap.String("player", p.Name))
		return
	}
	msg := session.ChatMessage(session.ChannelGuild, p.Name, session.TruncateChat(text), false)
	for _, m := range g.OnlineMembers() {
		m.Send(msg)
	}
}

// OfficerMessage relays chat to the online officers of p's guild. Only officers may send it.
func (s *Service) OfficerMessage(p *session.Player, text string) {
	g, ok := s.guildOf(p)
	if !ok || !s.isOfficer(p) {
		s.logger.Debug("officer message refused", zap.String("player", p.Name))
		return
	}
	msg := session.ChatMessage(session.ChannelGuildOfficer, p.Name, session.TruncateChat(text), false)
	for _, m := range g.OnlineOfficers(s.cfg.OfficerRank) {
		m.Send(msg)
	}
}

func (s *Service) sendRoster(g *session.Guild) {
	msg := rosterMessage(g)
	for _, m := range g.OnlineMembers() {
		m.Send(msg)
	}
}

func rosterMessage(g *session.Guild) []byte {
	return protocol.NewMessage(kephasmmo.OpGuildAllMembersUpdate).Text(g.RosterJSON()).Bytes()
}

// memberUpdateForServers tells game servers a character's guild. Guildless is "", -1, -1.
func memberUpdateForServers(charID int, guildName string, guildID, rank int) []byte {
	return protocol.NewMessage(kephasmmo.OpGuildMemberUpdate).
		Int(charID).
		Text(guildName).
		Int(guildID).
		Int(rank).
		Bytes()
}
