package rpc

import (
	"context"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
)

func (h *Handlers) messageChannel(conn kephasmmo.Conn, r *protocol.Reader) {
	channel := r.Int()
	text := session.TruncateChat(r.Text())
	asGM := r.Bool()
	h.withPlayer(conn, kephasmmo.OpMessageChannel, func(_ context.Context, p *session.Player) {
		asGM = asGM && p.IsGM()
		msg := session.ChatMessage(channel, p.Name, text, asGM)
		switch channel {
		case session.ChannelSay:
			// Game servers relay say chat to characters in range.
			h.dir.BroadcastServers(msg)
		case session.ChannelGlobal:
			h.dir.BroadcastPlayers(msg)
		default:
			h.logger.Debug("chat on unsupported channel", zap.String("player", p.Name), zap.Int("channel", channel))
			return
		}
		h.logger.Info("chat",
			zap.Int("channel", channel),
			zap.String("player", p.Name),
			zap.Bool("gm", asGM),
			zap.String("text", text))
	})
}

func (h *Handlers) messagePlayer(conn kephasmmo.Conn, r *protocol.Reader) {
	recipient := r.Text()
	text := session.TruncateChat(r.Text())
	asGM := r.Bool()
	h.withPlayer(conn, kephasmmo.OpMessagePlayer, func(_ context.Context, p *session.Player) {
		asGM = asGM && p.IsGM()
		target, ok := h.dir.PlayerByName(recipient)
		if !ok {
			p.Send(protocol.NewMessage(kephasmmo.OpNoSuchPlayer).Bytes())
			return
		}
		p.Send(protocol.NewMessage(kephasmmo.OpMessagePlayer).Bool(true).Text(target.Name).Text(text).Bool(asGM).Bytes())
		target.Send(protocol.NewMessage(kephasmmo.OpMessagePlayer).Bool(false).Text(p.Name).Text(text).Bool(asGM).Bytes())
		h.logger.Debug("private message", zap.String("from", p.Name), zap.String("to", target.Name))
	})
}

func (h *Handlers) messageParty(conn kephasmmo.Conn, r *protocol.Reader) {
	text := r.Text()
	h.withPlayer(conn, kephasmmo.OpMessageParty, func(_ context.Context, p *session.Player) {
		h.parties.Message(p, text)
	})
}

func (h *Handlers) messagePartyLeader(conn kephasmmo.Conn, r *protocol.Reader) {
	text := r.Text()
	h.withPlayer(conn, kephasmmo.OpMessagePartyLeader, func(_ context.Context, p *session.Player) {
		h.parties.LeaderMessage(p, text)
	})
}

func (h *Handlers) messageGuild(conn kephasmmo.Conn, r *protocol.Reader) {
	text := r.Text()
	h.withPlayer(conn, kephasmmo.OpMessageGuild, func(_ context.Context, p *session.Player) {
		h.guilds.Message(p, text)
	})
}

func (h *Handlers) messageGuildOfficer(conn kephasmmo.Conn, r *protocol.Reader) {
	text := r.Text()
	h.withPlayer(conn, kephasmmo.OpMessageGuildOfficer, func(_ context.Context, p *session.Player) {
		h.guilds.OfficerMessage(p, text)
	})
}

func (h *Handlers) adminMessage(conn kephasmmo.Conn, r *protocol.Reader) {
	text := r.Text()
	h.queue.Enqueue(func(context.Context) {
		if !h.dir.IsServer(conn) {
			p, ok := h.dir.PlayerByConn(conn)
			if !ok || !p.IsGM() {
				h.logger.Warn("admin message refused", zap.String("conn_id", conn.ID()))
				return
			}
		}
		h.broadcastAdmin(text)
	})
}

// AdminBroadcast sends an admin message to every player and game server. It is safe to call
// from any goroutine.
func (h *Handlers) AdminBroadcast(text string) {
	h.queue.Enqueue(func(context.Context) {
		h.broadcastAdmin(text)
	})
}

func (h *Handlers) broadcastAdmin(text string) {
	text = session.TruncateChat(text)
	msg := protocol.NewMessage(kephasmmo.OpAdminMessage).Text(text).Bytes()
	h.dir.BroadcastPlayers(msg)
	h.dir.BroadcastServers(msg)
	h.logger.Info("admin message", zap.String("text", text))
}
