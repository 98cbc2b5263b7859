package rpc

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

// CreateReason explains a refused character creation.
type CreateReason uint8

const (
	CreateInvalidName CreateReason = iota
	CreateNameTaken
	CreateInvalidData
	CreateFailed
)

// GMPermissions is granted to the first character ever created.
const GMPermissions = 1

const (
	minNameWord = 2
	maxNameWord = 15
)

// NormalizeCharacterName checks a requested character name and returns it in canonical form:
// NFC composed and title cased. A name is one or two words separated by a single space; each
// word is 2 to 15 letters. "jOHN smith" becomes "John Smith".
func NormalizeCharacterName(name string) (string, bool) {
	name = norm.NFC.String(name)
	words := strings.Split(name, " ")
	if len(words) > 2 {
		return "", false
	}
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if n < minNameWord || n > maxNameWord {
			return "", false
		}
		for _, r := range w {
			if !unicode.IsLetter(r) {
				return "", false
			}
		}
	}
	// A Caser keeps state, so each call gets its own.
	return cases.Title(language.Und).String(name), true
}

func (h *Handlers) getCharacters(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.queue.Enqueue(func(ctx context.Context) {
		accountID, ok := h.dir.AccountByConn(conn)
		if !ok {
			h.drop(ctx, conn, "character list before login")
			return
		}
		h.sendCharacters(ctx, conn, accountID)
	})
}

func (h *Handlers) sendCharacters(ctx context.Context, conn kephasmmo.Conn, accountID int) {
	chars, err := h.store.Characters(ctx, accountID)
	if err != nil {
		h.logger.Error("list characters", zap.Int("account_id", accountID), zap.Error(err))
		return
	}
	w := protocol.NewMessage(kephasmmo.OpGetCharacters).Int(len(chars))
	for _, c := range chars {
		w.Int(c.ID).Text(c.Name).Text(c.Serialized)
	}
	conn.Send(w.Bytes())
}

func createRefused(reason CreateReason) []byte {
	return protocol.NewMessage(kephasmmo.OpCreateCharacter).Bool(false).Uint8(uint8(reason)).Bytes()
}

func (h *Handlers) createCharacter(conn kephasmmo.Conn, r *protocol.Reader) {
	requested := r.Text()
	serialized := r.Text()
	h.queue.Enqueue(func(ctx context.Context) {
		name, ok := NormalizeCharacterName(requested)
		if !ok {
			h.logger.Info("character creation refused: invalid name", zap.String("name", requested))
			conn.Send(createRefused(CreateInvalidName))
			return
		}
		// A tampered packet could otherwise insert a fully equipped character.
		if gjson.Get(serialized, "NewCharacter").Type != gjson.True {
			h.logger.Warn("character creation refused: NewCharacter not set", zap.String("name", name))
			conn.Send(createRefused(CreateInvalidData))
			return
		}
		accountID, ok := h.dir.AccountByConn(conn)
		if !ok {
			h.drop(ctx, conn, "character creation before login")
			return
		}

		count, err := h.store.CountCharacters(ctx)
		if err != nil {
			h.logger.Error("count characters", zap.Error(err))
			conn.Send(createRefused(CreateFailed))
			return
		}
		c := storage.Character{
			AccountID:  accountID,
			Name:       name,
			Serialized: serialized,
			GuildID:    storage.NoGuild,
			GuildRank:  storage.NoGuild,
		}
		if count == 0 {
			c.Permissions = GMPermissions
			h.logger.Info("first character gets GM permissions", zap.String("name", name))
		}

		id, err := h.store.CreateCharacter(ctx, c)
		if errors.Is(err, storage.ErrNameTaken) {
			h.logger.Info("character creation refused: name taken", zap.String("name", name))
			conn.Send(createRefused(CreateNameTaken))
			return
		}
		if err != nil {
			h.logger.Error("create character", zap.String("name", name), zap.Error(err))
			conn.Send(createRefused(CreateFailed))
			return
		}
		h.logger.Info("character created", zap.String("name", name), zap.Int("char_id", id), zap.Int("account_id", accountID))
		conn.Send(protocol.NewMessage(kephasmmo.OpCreateCharacter).Bool(true).Int(id).Bytes())
	})
}

func (h *Handlers) deleteCharacter(conn kephasmmo.Conn, r *protocol.Reader) {
	name := r.Text()
	h.queue.Enqueue(func(ctx context.Context) {
		accountID, ok := h.dir.AccountByConn(conn)
		if !ok {
			h.drop(ctx, conn, "character deletion before login")
			return
		}
		h.deleteOwnedCharacter(ctx, accountID, name)
		h.sendCharacters(ctx, conn, accountID)
	})
}

// deleteOwnedCharacter removes the account's character called name, taking it out of its guild
// and party first. A character currently in play is never deleted.
func (h *Handlers) deleteOwnedCharacter(ctx context.Context, accountID int, name string) {
	c, err := h.store.CharacterByName(ctx, name, accountID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("load character", zap.String("name", name), zap.Error(err))
		}
		return
	}
	if _, online := h.dir.PlayerByCharID(c.ID); online {
		h.logger.Warn("character deletion refused: in play", zap.String("name", c.Name))
		return
	}

	if err := h.guilds.RemoveCharacter(ctx, c.GuildID, c.ID); err != nil {
		h.logger.Error("remove deleted character from guild", zap.Int("char_id", c.ID), zap.Error(err))
		return
	}
	if party, ok := h.dir.TakeDisconnectedParty(c.ID); ok {
		h.parties.RemoveMemberByID(party, c.ID, false)
	}
	if err := h.store.DeleteCharacter(ctx, c.ID); err != nil {
		h.logger.Error("delete character", zap.Int("char_id", c.ID), zap.Error(err))
		return
	}
	h.logger.Info("character deleted", zap.String("name", c.Name), zap.Int("char_id", c.ID))
}

func getCharacterFailed() []byte {
	return protocol.NewMessage(kephasmmo.OpGetCharacter).Bool(false).Bytes()
}

func (h *Handlers) getCharacter(conn kephasmmo.Conn, r *protocol.Reader) {
	cookie := r.Text()
	charID := r.Int()
	h.queue.Enqueue(func(ctx context.Context) {
		srv, ok := h.dir.Server(conn)
		if !ok {
			h.logger.Warn("server-only record from a non-server",
				zap.String("conn_id", conn.ID()),
				zap.Stringer("opcode", kephasmmo.OpGetCharacter))
			conn.Send(getCharacterFailed())
			return
		}
		accountID, ok := h.accountByCookie(cookie)
		if !ok {
			h.logger.Info("get character refused: bad cookie", zap.Int("char_id", charID))
			conn.Send(getCharacterFailed())
			return
		}
		c, err := h.store.Character(ctx, charID, accountID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				h.logger.Error("load character", zap.Int("char_id", charID), zap.Error(err))
			}
			conn.Send(getCharacterFailed())
			return
		}

		h.dir.SetPlayerServer(c.ID, srv)
		h.logger.Info("character entered server",
			zap.String("name", c.Name),
			zap.String("level", srv.Level),
			zap.Int("port", srv.Port))
		conn.Send(protocol.NewMessage(kephasmmo.OpGetCharacter).
			Bool(true).
			Int(c.AccountID).
			Int(c.ID).
			Text(c.Name).
			Int(c.Permissions).
			Text(c.Serialized).
			Int(c.GuildID).
			Int(c.GuildRank).
			Bytes())
	})
}

func (h *Handlers) saveCharacter(conn kephasmmo.Conn, r *protocol.Reader) {
	charID := r.Int()
	serialized := r.Text()
	h.withServer(conn, kephasmmo.OpSaveCharacter, func(ctx context.Context, _ *session.GameServer) {
		if err := h.store.SaveCharacter(ctx, charID, serialized); err != nil {
			h.logger.Error("save character", zap.Int("char_id", charID), zap.Error(err))
		}
	})
}
