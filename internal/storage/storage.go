// Package storage defines the persistence records and the repository interface the game
// logic consumes. Implementations live in subpackages.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrNameTaken is returned when a unique account, character or guild name already exists.
	ErrNameTaken = errors.New("storage: name taken")
)

// AccountBanned is the account status that refuses logins.
const AccountBanned = -1

// NoGuild marks a character without a guild, in both GuildID and GuildRank.
const NoGuild = -1

type Account struct {
	ID           int
	Name         string
	PasswordHash string
	Status       int
}

type Character struct {
	ID          int
	AccountID   int
	Name        string
	Permissions int
	Serialized  string
	GuildID     int
	GuildRank   int
}

type GuildMember struct {
	CharID int
	Name   string
	Rank   int
}

type Guild struct {
	ID      int
	Name    string
	Members []GuildMember
}

// PersistentObject is game-server owned world state, stored per server instance.
type PersistentObject struct {
	ID   int
	Data string
}

type AccountStore interface {
	// CreateAccount returns ErrNameTaken when the name exists.
	CreateAccount(ctx context.Context, name, passwordHash string) (int, error)
	AccountByName(ctx context.Context, name string) (Account, error)
}

type CharacterStore interface {
	CountCharacters(ctx context.Context) (int, error)
	// CreateCharacter returns ErrNameTaken when the name exists.
	CreateCharacter(ctx context.Context, c Character) (int, error)
	Characters(ctx context.Context, accountID int) ([]Character, error)
	// Character returns ErrNotFound unless accountID owns charID.
	Character(ctx context.Context, charID, accountID int) (Character, error)
	CharacterByName(ctx context.Context, name string, accountID int) (Character, error)
	DeleteCharacter(ctx context.Context, charID int) error
	SaveCharacter(ctx context.Context, charID int, serialized string) error
}

type GuildStore interface {
	Guilds(ctx context.Context) ([]Guild, error)
	// CreateGuild creates the guild and makes leaderID its rank 0 member in one step.
	// It returns ErrNameTaken when the name exists.
	CreateGuild(ctx context.Context, name string, leaderID int) (int, error)
	AddGuildMember(ctx context.Context, guildID, charID, rank int) error
	SetGuildRank(ctx context.Context, charID, rank int) error
	// RemoveGuildMember clears charID's guild and, when successorID is not NoGuild, promotes
	// the successor to rank 0 in the same transaction.
	RemoveGuildMember(ctx context.Context, charID, successorID int) error
	// DisbandGuild clears every member and deletes the guild.
	DisbandGuild(ctx context.Context, guildID int) error
}

type WorldStore interface {
	// ServerInfo returns "" when nothing was saved for the instance.
	ServerInfo(ctx context.Context, port int, level string) (string, error)
	SaveServerInfo(ctx context.Context, port int, level, serialized string) error
	PersistentObjects(ctx context.Context, port int, level string) ([]PersistentObject, error)
	SavePersistentObject(ctx context.Context, port int, level string, obj PersistentObject) error
	DeletePersistentObject(ctx context.Context, port int, level string, objectID int) error
}

// Store is everything the backend persists.
type Store interface {
	AccountStore
	CharacterStore
	GuildStore
	WorldStore
	Close() error
}
