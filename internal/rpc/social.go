package rpc

import (
	"context"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/party"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
)

func (h *Handlers) guildCreate(conn kephasmmo.Conn, r *protocol.Reader) {
	name := r.Text()
	h.withPlayer(conn, kephasmmo.OpGuildCreate, func(ctx context.Context, p *session.Player) {
		h.guilds.Create(ctx, p, name)
	})
}

func (h *Handlers) guildInvite(conn kephasmmo.Conn, r *protocol.Reader) {
	target := r.Text()
	h.withPlayer(conn, kephasmmo.OpGuildInvite, func(_ context.Context, p *session.Player) {
		h.guilds.Invite(p, target)
	})
}

func (h *Handlers) guildLeave(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.withPlayer(conn, kephasmmo.OpGuildLeave, func(ctx context.Context, p *session.Player) {
		h.guilds.Leave(ctx, p)
	})
}

func (h *Handlers) guildKick(conn kephasmmo.Conn, r *protocol.Reader) {
	target := r.Text()
	h.withPlayer(conn, kephasmmo.OpGuildKick, func(ctx context.Context, p *session.Player) {
		h.guilds.Kick(ctx, p, target)
	})
}

func (h *Handlers) guildAdjustRank(conn kephasmmo.Conn, r *protocol.Reader) {
	increase := r.Bool()
	target := r.Text()
	h.withPlayer(conn, kephasmmo.OpGuildAdjustRank, func(ctx context.Context, p *session.Player) {
		h.guilds.AdjustRank(ctx, p, target, increase)
	})
}

func (h *Handlers) guildDisband(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.withPlayer(conn, kephasmmo.OpGuildDisband, func(ctx context.Context, p *session.Player) {
		h.guilds.Disband(ctx, p)
	})
}

func (h *Handlers) partyInvite(conn kephasmmo.Conn, r *protocol.Reader) {
	target := r.Text()
	h.withPlayer(conn, kephasmmo.OpPartyInvite, func(_ context.Context, p *session.Player) {
		h.parties.Invite(p, target)
	})
}

func (h *Handlers) partyLeave(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.withPlayer(conn, kephasmmo.OpPartyLeave, func(_ context.Context, p *session.Player) {
		h.parties.Leave(p)
	})
}

// partyKick reads {byName bool, name string} or {byName bool, charId int32}.
func (h *Handlers) partyKick(conn kephasmmo.Conn, r *protocol.Reader) {
	if r.Bool() {
		name := r.Text()
		h.withPlayer(conn, kephasmmo.OpPartyKick, func(_ context.Context, p *session.Player) {
			h.parties.KickByName(p, name)
		})
		return
	}
	charID := r.Int()
	h.withPlayer(conn, kephasmmo.OpPartyKick, func(_ context.Context, p *session.Player) {
		h.parties.Kick(p, charID)
	})
}

func (h *Handlers) partyDisband(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.withPlayer(conn, kephasmmo.OpPartyDisband, func(_ context.Context, p *session.Player) {
		h.parties.Disband(p)
	})
}

func (h *Handlers) partyChangeLeader(conn kephasmmo.Conn, r *protocol.Reader) {
	newLeader := r.Int()
	h.withPlayer(conn, kephasmmo.OpPartyChangeLeader, func(_ context.Context, p *session.Player) {
		h.parties.ChangeLeader(p, newLeader)
	})
}

func (h *Handlers) partyMembersSync(conn kephasmmo.Conn, r *protocol.Reader) {
	payload := r.Text()
	h.withServer(conn, kephasmmo.OpPartyMembersSync, func(_ context.Context, srv *session.GameServer) {
		if err := h.parties.SyncVitals(payload); err != nil {
			h.logger.Warn("party sync rejected", zap.String("level", srv.Level), zap.Int("port", srv.Port), zap.Error(err))
		}
	})
}

func (h *Handlers) acceptInvite(conn kephasmmo.Conn, r *protocol.Reader) {
	accept := r.Bool()
	h.withPlayer(conn, kephasmmo.OpAcceptInvite, func(ctx context.Context, p *session.Player) {
		h.answerInvite(ctx, p, accept)
	})
}

func (h *Handlers) declineInvite(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.withPlayer(conn, kephasmmo.OpDeclineInvite, func(ctx context.Context, p *session.Player) {
		h.answerInvite(ctx, p, false)
	})
}

// answerInvite resolves p's pending invitation. The inviter, if still online, learns the answer
// either way; an accepted invitation is handed to the guild or party service.
func (h *Handlers) answerInvite(ctx context.Context, p *session.Player, accept bool) {
	inv, ok := p.PendingInvitation(h.now())
	if !ok {
		p.Send(protocol.NewMessage(kephasmmo.OpAcceptInvite).Uint8(uint8(party.AcceptExpired)).Bytes())
		return
	}
	p.ClearInvitation()

	if inviter, ok := h.dir.PlayerByName(inv.InviterName); ok {
		inviter.Send(protocol.NewMessage(kephasmmo.OpAcceptInvite).Bool(accept).Text(p.Name).Bytes())
	}
	if !accept {
		return
	}
	switch inv.Kind {
	case session.GuildInvitation:
		h.guilds.AcceptInvite(ctx, p, inv)
	case session.PartyInvitation:
		h.parties.AcceptInvite(p, inv)
	}
}
