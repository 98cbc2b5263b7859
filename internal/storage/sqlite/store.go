// Package sqlite implements storage.Store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luciancaetano/kephasmmo/internal/storage"
	"github.com/luciancaetano/kephasmmo/internal/storage/sqlite/migrations"
)

// Store implements storage.Store over SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens the database at path and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// All writes come from the action queue; one connection keeps pragmas and visibility simple.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) CreateAccount(ctx context.Context, name, passwordHash string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, password, status, created_at) VALUES (?, ?, 0, ?)`,
		name, passwordHash, time.Now().UTC().UnixMilli())
	if isUniqueViolation(err) {
		return 0, storage.ErrNameTaken
	}
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account id: %w", err)
	}
	return int(id), nil
}

func (s *Store) AccountByName(ctx context.Context, name string) (storage.Account, error) {
	var a storage.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, password, status FROM accounts WHERE name = ?`, name,
	).Scan(&a.ID, &a.Name, &a.PasswordHash, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

func (s *Store) CountCharacters(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM characters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count characters: %w", err)
	}
	return n, nil
}

func (s *Store) CreateCharacter(ctx context.Context, c storage.Character) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (name, owner, permissions, serialized) VALUES (?, ?, ?, ?)`,
		c.Name, c.AccountID, c.Permissions, c.Serialized)
	if isUniqueViolation(err) {
		return 0, storage.ErrNameTaken
	}
	if err != nil {
		return 0, fmt.Errorf("insert character: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("character id: %w", err)
	}
	return int(id), nil
}

const characterColumns = `id, owner, name, permissions, serialized, COALESCE(guild, -1), COALESCE(guildrank, -1)`

type scanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row scanner) (storage.Character, error) {
	var c storage.Character
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.Permissions, &c.Serialized, &c.GuildID, &c.GuildRank)
	return c, err
}

func (s *Store) Characters(ctx context.Context, accountID int) ([]storage.Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE owner = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select characters: %w", err)
	}
	defer rows.Close()

	var out []storage.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Character(ctx context.Context, charID, accountID int) (storage.Character, error) {
	c, err := scanCharacter(s.db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = ? AND owner = ?`, charID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Character{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Character{}, fmt.Errorf("select character: %w", err)
	}
	return c, nil
}

func (s *Store) CharacterByName(ctx context.Context, name string, accountID int) (storage.Character, error) {
	c, err := scanCharacter(s.db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE name = ? AND owner = ?`, name, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Character{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Character{}, fmt.Errorf("select character: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteCharacter(ctx context.Context, charID int) error {
	return s.execOne(ctx, "delete character", `DELETE FROM characters WHERE id = ?`, charID)
}

func (s *Store) SaveCharacter(ctx context.Context, charID int, serialized string) error {
	return s.execOne(ctx, "save character", `UPDATE characters SET serialized = ? WHERE id = ?`, serialized, charID)
}

// execOne runs a statement that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	return execOne(ctx, s.db, op, query, args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, db execer, op, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Guilds(ctx context.Context) ([]storage.Guild, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.id, g.name, c.id, c.name, c.guildrank
FROM guilds g
LEFT JOIN characters c ON c.guild = g.id
ORDER BY g.id, c.id`)
	if err != nil {
		return nil, fmt.Errorf("select guilds: %w", err)
	}
	defer rows.Close()

	var out []storage.Guild
	for rows.Next() {
		var (
			guildID    int
			guildName  string
			charID     sql.NullInt64
			charName   sql.NullString
			memberRank sql.NullInt64
		)
		if err := rows.Scan(&guildID, &guildName, &charID, &charName, &memberRank); err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != guildID {
			out = append(out, storage.Guild{ID: guildID, Name: guildName})
		}
		if charID.Valid {
			g := &out[len(out)-1]
			g.Members = append(g.Members, storage.GuildMember{
				CharID: int(charID.Int64),
				Name:   charName.String,
				Rank:   int(memberRank.Int64),
			})
		}
	}
	return out, rows.Err()
}

func (s *Store) CreateGuild(ctx context.Context, name string, leaderID int) (int, error) {
	var guildID int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO guilds (name) VALUES (?)`, name)
		if isUniqueViolation(err) {
			return storage.ErrNameTaken
		}
		if err != nil {
			return fmt.Errorf("insert guild: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("guild id: %w", err)
		}
		guildID = int(id)
		return execOne(ctx, tx, "set guild leader",
			`UPDATE characters SET guild = ?, guildrank = 0 WHERE id = ?`, guildID, leaderID)
	})
	return guildID, err
}

func (s *Store) AddGuildMember(ctx context.Context, guildID, charID, rank int) error {
	return s.execOne(ctx, "add guild member",
		`UPDATE characters SET guild = ?, guildrank = ? WHERE id = ?`, guildID, rank, charID)
}

func (s *Store) SetGuildRank(ctx context.Context, charID, rank int) error {
	return s.execOne(ctx, "set guild rank",
		`UPDATE characters SET guildrank = ? WHERE id = ? AND guild IS NOT NULL`, rank, charID)
}

func (s *Store) RemoveGuildMember(ctx context.Context, charID, successorID int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execOne(ctx, tx, "remove guild member",
			`UPDATE characters SET guild = NULL, guildrank = NULL WHERE id = ?`, charID); err != nil {
			return err
		}
		if successorID == storage.NoGuild {
			return nil
		}
		return execOne(ctx, tx, "promote successor",
			`UPDATE characters SET guildrank = 0 WHERE id = ? AND guild IS NOT NULL`, successorID)
	})
}

func (s *Store) DisbandGuild(ctx context.Context, guildID int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE characters SET guild = NULL, guildrank = NULL WHERE guild = ?`, guildID); err != nil {
			return fmt.Errorf("clear guild members: %w", err)
		}
		return execOne(ctx, tx, "delete guild", `DELETE FROM guilds WHERE id = ?`, guildID)
	})
}

func (s *Store) ServerInfo(ctx context.Context, port int, level string) (string, error) {
	var serialized string
	err := s.db.QueryRowContext(ctx,
		`SELECT serialized FROM server_info WHERE port = ? AND level = ?`, port, level,
	).Scan(&serialized)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select server info: %w", err)
	}
	return serialized, nil
}

func (s *Store) SaveServerInfo(ctx context.Context, port int, level, serialized string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO server_info (port, level, serialized) VALUES (?, ?, ?)
ON CONFLICT (port, level) DO UPDATE SET serialized = excluded.serialized`,
		port, level, serialized)
	if err != nil {
		return fmt.Errorf("save server info: %w", err)
	}
	return nil
}

func (s *Store) PersistentObjects(ctx context.Context, port int, level string) ([]storage.PersistentObject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_id, data FROM persistent_objects WHERE port = ? AND level = ? ORDER BY object_id`,
		port, level)
	if err != nil {
		return nil, fmt.Errorf("select persistent objects: %w", err)
	}
	defer rows.Close()

	var out []storage.PersistentObject
	for rows.Next() {
		var obj storage.PersistentObject
		if err := rows.Scan(&obj.ID, &obj.Data); err != nil {
			return nil, fmt.Errorf("scan persistent object: %w", err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func (s *Store) SavePersistentObject(ctx context.Context, port int, level string, obj storage.PersistentObject) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO persistent_objects (port, level, object_id, data) VALUES (?, ?, ?, ?)
ON CONFLICT (port, level, object_id) DO UPDATE SET data = excluded.data`,
		port, level, obj.ID, obj.Data)
	if err != nil {
		return fmt.Errorf("save persistent object: %w", err)
	}
	return nil
}

func (s *Store) DeletePersistentObject(ctx context.Context, port int, level string, objectID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM persistent_objects WHERE port = ? AND level = ? AND object_id = ?`,
		port, level, objectID)
	if err != nil {
		return fmt.Errorf("delete persistent object: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
