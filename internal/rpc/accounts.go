package rpc

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/auth"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

func loginFailed(op kephasmmo.Opcode) []byte {
	return protocol.NewMessage(op).Bool(false).Bytes()
}

func (h *Handlers) createAccountPassword(conn kephasmmo.Conn, r *protocol.Reader) {
	name := strings.TrimSpace(r.Text())
	password := r.Text()
	h.queue.Enqueue(func(ctx context.Context) {
		h.createAccount(ctx, conn, name, password)
	})
}

func (h *Handlers) createAccount(ctx context.Context, conn kephasmmo.Conn, name, password string) {
	const op = kephasmmo.OpCreateAccountPassword
	if name == "" || password == "" || len(password) > auth.MaxPasswordLength {
		h.logger.Info("account creation refused: bad credentials", zap.String("name", name))
		conn.Send(loginFailed(op))
		return
	}
	hash, err := h.auth.HashPassword(password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		conn.Send(loginFailed(op))
		return
	}
	accountID, err := h.store.CreateAccount(ctx, name, hash)
	if errors.Is(err, storage.ErrNameTaken) {
		h.logger.Info("account creation refused: name taken", zap.String("name", name))
		conn.Send(loginFailed(op))
		return
	}
	if err != nil {
		h.logger.Error("create account", zap.String("name", name), zap.Error(err))
		conn.Send(loginFailed(op))
		return
	}
	h.logger.Info("account created", zap.String("name", name), zap.Int("account_id", accountID))
	h.login(ctx, op, conn, accountID)
}

func (h *Handlers) loginPassword(conn kephasmmo.Conn, r *protocol.Reader) {
	name := strings.TrimSpace(r.Text())
	password := r.Text()
	h.queue.Enqueue(func(ctx context.Context) {
		const op = kephasmmo.OpLoginPassword
		acc, err := h.store.AccountByName(ctx, name)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				h.logger.Error("load account", zap.String("name", name), zap.Error(err))
			}
			conn.Send(loginFailed(op))
			return
		}
		if acc.Status == storage.AccountBanned {
			h.logger.Info("login refused: banned", zap.String("name", name))
			conn.Send(loginFailed(op))
			return
		}
		if !h.auth.CheckPassword(acc.PasswordHash, password) {
			h.logger.Info("login refused: wrong password", zap.String("name", name))
			conn.Send(loginFailed(op))
			return
		}
		h.login(ctx, op, conn, acc.ID)
	})
}

// login issues a fresh cookie, binds conn to the account and replies {true, cookie}.
func (h *Handlers) login(ctx context.Context, op kephasmmo.Opcode, conn kephasmmo.Conn, accountID int) {
	cookie, err := h.auth.RefreshToken(accountID)
	if err != nil {
		h.logger.Error("refresh token", zap.Int("account_id", accountID), zap.Error(err))
		conn.Send(loginFailed(op))
		return
	}
	displaced := h.dir.LoginAccount(accountID, cookie, conn)
	h.evict(ctx, displaced)
	conn.Send(protocol.NewMessage(op).Bool(true).Text(cookie).Bytes())
	h.logger.Info("account logged in", zap.Int("account_id", accountID), zap.String("conn_id", conn.ID()))
}

func (h *Handlers) logout(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.queue.Enqueue(func(context.Context) {
		accountID, ok := h.dir.AccountByConn(conn)
		if !ok {
			return
		}
		h.auth.InvalidateToken(accountID)
		h.dir.Logout(accountID)
		h.logger.Info("account logged out", zap.Int("account_id", accountID))
	})
}

// accountByCookie resolves a cookie presented by a client to its account. Both the cookie
// table and the authenticator must accept it.
func (h *Handlers) accountByCookie(cookie string) (int, bool) {
	accountID, ok := h.dir.AccountByCookie(cookie)
	if !ok {
		return 0, false
	}
	return accountID, h.auth.ValidateCookie(accountID, cookie)
}

func (h *Handlers) loginClientWithCookie(conn kephasmmo.Conn, r *protocol.Reader) {
	cookie := r.Text()
	charID := r.Int()
	h.queue.Enqueue(func(ctx context.Context) {
		accountID, ok := h.accountByCookie(cookie)
		if !ok {
			h.drop(ctx, conn, "bad cookie")
			return
		}
		c, err := h.store.Character(ctx, charID, accountID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				h.logger.Error("load character", zap.Int("char_id", charID), zap.Error(err))
			}
			h.drop(ctx, conn, "bad character")
			return
		}

		p, displaced := h.dir.ReconnectCharacter(conn, session.CharacterInfo{
			AccountID:   accountID,
			CharID:      c.ID,
			Name:        c.Name,
			Permissions: c.Permissions,
			GuildID:     c.GuildID,
			GuildRank:   c.GuildRank,
		})
		h.evict(ctx, displaced)
		h.guilds.PlayerConnected(p)
		h.parties.PlayerReconnected(p)
		h.logger.Info("player joined", zap.String("player", p.Name), zap.Int("char_id", p.CharID))
	})
}
