// Package rpc binds every opcode to the action it performs on the session directory, the guild
// and party services, and storage.
//
// Each handler decodes its record on the connection's read goroutine and enqueues an action.
// Actions run one at a time on the queue consumer, so they may touch the directory freely.
package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/auth"
	"github.com/luciancaetano/kephasmmo/internal/config"
	"github.com/luciancaetano/kephasmmo/internal/dispatch"
	"github.com/luciancaetano/kephasmmo/internal/guild"
	"github.com/luciancaetano/kephasmmo/internal/party"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/queue"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

// Deps is the dependency graph the handlers act on.
type Deps struct {
	Config    config.Config
	Directory *session.Directory
	Queue     *queue.Queue
	Store     storage.Store
	Auth      *auth.Authenticator
	Guilds    *guild.Service
	Parties   *party.Service
	Logger    *zap.Logger
}

// Handlers implements the wire surface.
type Handlers struct {
	cfg     config.Config
	dir     *session.Directory
	queue   *queue.Queue
	store   storage.Store
	auth    *auth.Authenticator
	guilds  *guild.Service
	parties *party.Service
	logger  *zap.Logger
	now     func() time.Time
}

func New(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cfg:     deps.Config,
		dir:     deps.Directory,
		queue:   deps.Queue,
		store:   deps.Store,
		auth:    deps.Auth,
		guilds:  deps.Guilds,
		parties: deps.Parties,
		logger:  logger.Named("rpc"),
		now:     time.Now,
	}
}

// Registrations returns the dispatcher table. In development every record is also traced at
// debug level before its handler runs.
func (h *Handlers) Registrations() []dispatch.Registration {
	regs := []dispatch.Registration{
		{Op: kephasmmo.OpConnected, Name: "Connected", Handle: h.connected},
		{Op: kephasmmo.OpDisconnected, Name: "Disconnected", Handle: h.disconnected},

		{Op: kephasmmo.OpCreateAccountPassword, Name: "CreateAccountPassword", Handle: h.createAccountPassword},
		{Op: kephasmmo.OpLoginPassword, Name: "LoginPassword", Handle: h.loginPassword},
		{Op: kephasmmo.OpLogout, Name: "Logout", Handle: h.logout},
		{Op: kephasmmo.OpLoginClientWithCookie, Name: "LoginClientWithCookie", Handle: h.loginClientWithCookie},

		{Op: kephasmmo.OpGetCharacters, Name: "GetCharacters", Handle: h.getCharacters},
		{Op: kephasmmo.OpCreateCharacter, Name: "CreateCharacter", Handle: h.createCharacter},
		{Op: kephasmmo.OpDeleteCharacter, Name: "DeleteCharacter", Handle: h.deleteCharacter},
		{Op: kephasmmo.OpGetCharacter, Name: "GetCharacter", Handle: h.getCharacter},
		{Op: kephasmmo.OpSaveCharacter, Name: "SaveCharacter", Handle: h.saveCharacter},

		{Op: kephasmmo.OpLoginServer, Name: "LoginServer", Handle: h.loginServer},
		{Op: kephasmmo.OpSaveServerInfo, Name: "SaveServerInfo", Handle: h.saveServerInfo},
		{Op: kephasmmo.OpSavePersistentObject, Name: "SavePersistentObject", Handle: h.savePersistentObject},
		{Op: kephasmmo.OpGetIPAndPort, Name: "GetIpAndPort", Handle: h.getIPAndPort},
		{Op: kephasmmo.OpKeepAliveProbe, Name: "KeepAliveProbe", Handle: h.keepAliveProbe},

		{Op: kephasmmo.OpMessageChannel, Name: "MessageChannel", Handle: h.messageChannel},
		{Op: kephasmmo.OpMessagePlayer, Name: "MessagePlayer", Handle: h.messagePlayer},
		{Op: kephasmmo.OpMessageParty, Name: "MessageParty", Handle: h.messageParty},
		{Op: kephasmmo.OpMessagePartyLeader, Name: "MessagePartyLeader", Handle: h.messagePartyLeader},
		{Op: kephasmmo.OpMessageGuild, Name: "MessageGuild", Handle: h.messageGuild},
		{Op: kephasmmo.OpMessageGuildOfficer, Name: "MessageGuildOfficer", Handle: h.messageGuildOfficer},
		{Op: kephasmmo.OpAdminMessage, Name: "AdminMessage", Handle: h.adminMessage},

		{Op: kephasmmo.OpGuildCreate, Name: "GuildCreate", Handle: h.guildCreate},
		{Op: kephasmmo.OpGuildInvite, Name: "GuildInvite", Handle: h.guildInvite},
		{Op: kephasmmo.OpGuildLeave, Name: "GuildLeave", Handle: h.guildLeave},
		{Op: kephasmmo.OpGuildKick, Name: "GuildKick", Handle: h.guildKick},
		{Op: kephasmmo.OpGuildAdjustRank, Name: "GuildAdjustRank", Handle: h.guildAdjustRank},
		{Op: kephasmmo.OpGuildDisband, Name: "GuildDisband", Handle: h.guildDisband},

		{Op: kephasmmo.OpPartyInvite, Name: "PartyInvite", Handle: h.partyInvite},
		{Op: kephasmmo.OpPartyLeave, Name: "PartyLeave", Handle: h.partyLeave},
		{Op: kephasmmo.OpPartyKick, Name: "PartyKick", Handle: h.partyKick},
		{Op: kephasmmo.OpPartyDisband, Name: "PartyDisband", Handle: h.partyDisband},
		{Op: kephasmmo.OpPartyChangeLeader, Name: "PartyChangeLeader", Handle: h.partyChangeLeader},
		{Op: kephasmmo.OpPartyMembersSync, Name: "PartyMembersSync", Handle: h.partyMembersSync},

		{Op: kephasmmo.OpAcceptInvite, Name: "AcceptInvite", Handle: h.acceptInvite},
		{Op: kephasmmo.OpDeclineInvite, Name: "DeclineInvite", Handle: h.declineInvite},
	}
	if !h.cfg.IsDevelopment() {
		return regs
	}

	traced := make([]dispatch.Registration, 0, 2*len(regs))
	for _, reg := range regs {
		traced = append(traced, dispatch.Registration{Op: reg.Op, Name: "trace", Handle: h.trace(reg.Op)}, reg)
	}
	return traced
}

func (h *Handlers) trace(op kephasmmo.Opcode) dispatch.HandlerFunc {
	return func(conn kephasmmo.Conn, r *protocol.Reader) {
		h.logger.Debug("record",
			zap.String("conn_id", conn.ID()),
			zap.Stringer("opcode", op),
			zap.Int("payload", r.Len()))
	}
}

func (h *Handlers) connected(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.logger.Info("connected", zap.String("conn_id", conn.ID()), zap.String("remote_addr", conn.RemoteAddr()))
}

func (h *Handlers) disconnected(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.logger.Info("disconnected", zap.String("conn_id", conn.ID()))
	h.queue.Enqueue(func(context.Context) {
		h.teardown(conn)
	})
}

// teardown removes conn from the directory and tells the guild and party of the player it
// carried. It is idempotent: a connection already torn down is left alone.
func (h *Handlers) teardown(conn kephasmmo.Conn) {
	if srv, ok := h.dir.Server(conn); ok {
		h.logger.Info("game server left",
			zap.String("conn_id", conn.ID()),
			zap.String("level", srv.Level),
			zap.Int("port", srv.Port))
	}

	p, isPlayer := h.dir.PlayerByConn(conn)
	var partyID string
	if isPlayer {
		partyID = h.parties.PlayerDisconnected(p)
	}
	h.dir.Disconnect(conn)
	if !isPlayer {
		return
	}
	h.parties.Refresh(partyID)
	h.guilds.PlayerDisconnected(p)
	h.logger.Info("player left", zap.String("player", p.Name), zap.Int("char_id", p.CharID))
}

// evict tears down each displaced connection, then closes it. The transport's Disconnected
// event for it arrives later and finds nothing left to tear down.
func (h *Handlers) evict(ctx context.Context, conns []kephasmmo.Conn) {
	for _, c := range conns {
		h.teardown(c)
		if err := c.Close(ctx); err != nil {
			h.logger.Debug("close displaced connection", zap.String("conn_id", c.ID()), zap.Error(err))
		}
		h.logger.Info("connection displaced", zap.String("conn_id", c.ID()))
	}
}

// drop closes a connection that broke protocol in a way the client cannot recover from.
func (h *Handlers) drop(ctx context.Context, conn kephasmmo.Conn, reason string) {
	h.logger.Warn("closing connection", zap.String("conn_id", conn.ID()), zap.String("reason", reason))
	if err := conn.Close(ctx); err != nil {
		h.logger.Debug("close", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}

// withPlayer enqueues fn for the player playing on conn. Records from connections that carry
// no player are ignored.
func (h *Handlers) withPlayer(conn kephasmmo.Conn, op kephasmmo.Opcode, fn func(ctx context.Context, p *session.Player)) {
	h.queue.Enqueue(func(ctx context.Context) {
		p, ok := h.dir.PlayerByConn(conn)
		if !ok {
			h.logger.Debug("record without a player", zap.String("conn_id", conn.ID()), zap.Stringer("opcode", op))
			return
		}
		fn(ctx, p)
	})
}

// withServer enqueues fn for the game server logged in on conn. Anyone else sending a
// server-only record is logged and ignored.
func (h *Handlers) withServer(conn kephasmmo.Conn, op kephasmmo.Opcode, fn func(ctx context.Context, srv *session.GameServer)) {
	h.queue.Enqueue(func(ctx context.Context) {
		srv, ok := h.dir.Server(conn)
		if !ok {
			h.logger.Warn("server-only record from a non-server",
				zap.String("conn_id", conn.ID()),
				zap.String("remote_addr", conn.RemoteAddr()),
				zap.Stringer("opcode", op))
			return
		}
		fn(ctx, srv)
	})
}
