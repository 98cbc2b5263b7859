package session

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/luciancaetano/kephasmmo"
)

// ErrNoServerForZone is returned when no running instance hosts the zone.
var ErrNoServerForZone = errors.New("session: no server for zone")

// MultiLoginPolicy decides what happens when an account logs in twice.
type MultiLoginPolicy string

const (
	// KickPrevious disconnects the account's older connections.
	KickPrevious MultiLoginPolicy = "kick"
	// AllowMultiple lets one account hold several connections at once.
	AllowMultiple MultiLoginPolicy = "allow"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (MultiLoginPolicy, error) {
	switch p := MultiLoginPolicy(strings.ToLower(s)); p {
	case KickPrevious, AllowMultiple:
		return p, nil
	default:
		return "", fmt.Errorf("unknown multi-login policy %q", s)
	}
}

// Directory maps connections to accounts, characters and game servers, and owns the guild
// and party registries. It has no locks: every call must come from the action queue.
type Directory struct {
	policy MultiLoginPolicy

	cookies         map[string]int
	cookieByAccount map[int]string
	accountByConn   map[kephasmmo.Conn]int
	connsByAccount  map[int][]kephasmmo.Conn

	players       map[kephasmmo.Conn]*Player
	playersByName map[string]*Player
	playersByChar map[int]*Player

	servers      map[kephasmmo.Conn]*GameServer
	serverOrder  []*GameServer
	serverByChar map[int]*GameServer

	guilds              map[int]*Guild
	parties             map[string]*Party
	disconnectedParties map[int]string
}

// NewDirectory returns an empty Directory applying policy to repeated logins.
func NewDirectory(policy MultiLoginPolicy) *Directory {
	return &Directory{
		policy:              policy,
		cookies:             make(map[string]int),
		cookieByAccount:     make(map[int]string),
		accountByConn:       make(map[kephasmmo.Conn]int),
		connsByAccount:      make(map[int][]kephasmmo.Conn),
		players:             make(map[kephasmmo.Conn]*Player),
		playersByName:       make(map[string]*Player),
		playersByChar:       make(map[int]*Player),
		servers:             make(map[kephasmmo.Conn]*GameServer),
		serverByChar:        make(map[int]*GameServer),
		guilds:              make(map[int]*Guild),
		parties:             make(map[string]*Party),
		disconnectedParties: make(map[int]string),
	}
}

// LoginAccount binds conn to accountID and records cookie as the account's current cookie.
// Under KickPrevious it returns the account's other connections, which the caller must tear
// down; the directory does not close them itself.
func (d *Directory) LoginAccount(accountID int, cookie string, conn kephasmmo.Conn) []kephasmmo.Conn {
	if old, ok := d.cookieByAccount[accountID]; ok {
		delete(d.cookies, old)
	}
	d.cookies[cookie] = accountID
	d.cookieByAccount[accountID] = cookie

	var displaced []kephasmmo.Conn
	if d.policy == KickPrevious {
		for _, c := range d.connsByAccount[accountID] {
			if c != conn {
				displaced = append(displaced, c)
			}
		}
	}
	d.bindAccount(accountID, conn)
	return displaced
}

func (d *Directory) bindAccount(accountID int, conn kephasmmo.Conn) {
	if prev, ok := d.accountByConn[conn]; ok {
		if prev == accountID {
			return
		}
		d.unbindAccount(conn)
	}
	d.accountByConn[conn] = accountID
	d.connsByAccount[accountID] = append(d.connsByAccount[accountID], conn)
}

func (d *Directory) unbindAccount(conn kephasmmo.Conn) {
	accountID, ok := d.accountByConn[conn]
	if !ok {
		return
	}
	delete(d.accountByConn, conn)
	conns := slices.DeleteFunc(d.connsByAccount[accountID], func(c kephasmmo.Conn) bool { return c == conn })
	if len(conns) == 0 {
		delete(d.connsByAccount, accountID)
		return
	}
	d.connsByAccount[accountID] = conns
}

// AccountByCookie returns the account a cookie was issued to.
func (d *Directory) AccountByCookie(cookie string) (int, bool) {
	id, ok := d.cookies[cookie]
	return id, ok
}

// AccountByConn returns the account conn is logged in as.
func (d *Directory) AccountByConn(conn kephasmmo.Conn) (int, bool) {
	id, ok := d.accountByConn[conn]
	return id, ok
}

// connsOf returns every connection bound to accountID.
func (d *Directory) connsOf(accountID int) []kephasmmo.Conn {
	return slices.Clone(d.connsByAccount[accountID])
}

// ReconnectCharacter turns conn into a Player for info. Connections that already play the
// same character, and under KickPrevious any other connection of the account, are returned
// as displaced. The new player is published before the caller tears those down, so their
// teardown leaves the new player's index entries alone.
func (d *Directory) ReconnectCharacter(conn kephasmmo.Conn, info CharacterInfo) (*Player, []kephasmmo.Conn) {
	var displaced []kephasmmo.Conn
	if old, ok := d.playersByChar[info.CharID]; ok && old.Conn != conn {
		displaced = append(displaced, old.Conn)
	}
	if d.policy == KickPrevious {
		for _, c := range d.connsByAccount[info.AccountID] {
			if c != conn && !slices.Contains(displaced, c) {
				displaced = append(displaced, c)
			}
		}
	}
	if prev, ok := d.players[conn]; ok {
		if g, ok := d.guilds[prev.GuildID]; ok {
			g.SetOffline(prev)
		}
		d.unpublish(prev)
	}

	p := &Player{
		Conn:        conn,
		AccountID:   info.AccountID,
		CharID:      info.CharID,
		Name:        info.Name,
		Permissions: info.Permissions,
		GuildID:     info.GuildID,
		GuildRank:   info.GuildRank,
	}
	d.players[conn] = p
	d.playersByName[strings.ToLower(p.Name)] = p
	d.playersByChar[p.CharID] = p
	d.bindAccount(info.AccountID, conn)
	return p, displaced
}

func (d *Directory) unpublish(p *Player) {
	delete(d.players, p.Conn)
	key := strings.ToLower(p.Name)
	if d.playersByName[key] == p {
		delete(d.playersByName, key)
	}
	if d.playersByChar[p.CharID] == p {
		delete(d.playersByChar, p.CharID)
	}
}

// Disconnect removes every index entry for conn. It is safe to call more than once. Party
// linkage is left to the caller, which must resolve it before calling Disconnect. Cookies
// survive so the client can come back with LoginClientWithCookie.
func (d *Directory) Disconnect(conn kephasmmo.Conn) {
	if srv, ok := d.servers[conn]; ok {
		for id := range srv.chars {
			if d.serverByChar[id] == srv {
				delete(d.serverByChar, id)
			}
		}
		delete(d.servers, conn)
		d.serverOrder = slices.DeleteFunc(d.serverOrder, func(s *GameServer) bool { return s == srv })
	}
	if p, ok := d.players[conn]; ok {
		if g, ok := d.guilds[p.GuildID]; ok {
			g.SetOffline(p)
		}
		p.ClearInvitation()
		d.unpublish(p)
	}
	d.unbindAccount(conn)
}

// Logout forgets the account's cookie.
func (d *Directory) Logout(accountID int) {
	if cookie, ok := d.cookieByAccount[accountID]; ok {
		delete(d.cookies, cookie)
		delete(d.cookieByAccount, accountID)
	}
}

// PlayerByConn returns the player playing on conn.
func (d *Directory) PlayerByConn(conn kephasmmo.Conn) (*Player, bool) {
	p, ok := d.players[conn]
	return p, ok
}

// PlayerByName looks a player up by case-insensitive name.
func (d *Directory) PlayerByName(name string) (*Player, bool) {
	p, ok := d.playersByName[strings.ToLower(name)]
	return p, ok
}

// PlayerByCharID returns the online player for a character.
func (d *Directory) PlayerByCharID(charID int) (*Player, bool) {
	p, ok := d.playersByChar[charID]
	return p, ok
}

// Players returns every online player ordered by char id.
func (d *Directory) Players() []*Player {
	out := make([]*Player, 0, len(d.playersByChar))
	for _, p := range d.playersByChar {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharID < out[j].CharID })
	return out
}

// RegisterServer records conn as a game server instance.
func (d *Directory) RegisterServer(conn kephasmmo.Conn, port int, level, zone string) *GameServer {
	if srv, ok := d.servers[conn]; ok {
		return srv
	}
	srv := &GameServer{Conn: conn, Port: port, Level: level, Zone: zone, chars: make(map[int]struct{})}
	d.servers[conn] = srv
	d.serverOrder = append(d.serverOrder, srv)
	return srv
}

// IsServer reports whether conn has logged in as a game server.
func (d *Directory) IsServer(conn kephasmmo.Conn) bool {
	_, ok := d.servers[conn]
	return ok
}

// Server returns the game server logged in on conn.
func (d *Directory) Server(conn kephasmmo.Conn) (*GameServer, bool) {
	srv, ok := d.servers[conn]
	return srv, ok
}

// Servers returns the instances in login order.
func (d *Directory) Servers() []*GameServer {
	return slices.Clone(d.serverOrder)
}

// SetPlayerServer records that srv now hosts charID, moving it off any previous instance.
func (d *Directory) SetPlayerServer(charID int, srv *GameServer) {
	if prev, ok := d.serverByChar[charID]; ok {
		delete(prev.chars, charID)
	}
	srv.chars[charID] = struct{}{}
	d.serverByChar[charID] = srv
}

func (d *Directory) ServerForChar(charID int) (*GameServer, bool) {
	srv, ok := d.serverByChar[charID]
	return srv, ok
}

// GetOrStartServerForZone returns the first registered instance hosting zone. Launching new
// instances is not supported, so a zone with no instance yields ErrNoServerForZone.
func (d *Directory) GetOrStartServerForZone(zone string) (*GameServer, error) {
	for _, srv := range d.serverOrder {
		if srv.Zone == zone {
			return srv, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoServerForZone, zone)
}

func (d *Directory) AddGuild(g *Guild) {
	d.guilds[g.ID] = g
}

func (d *Directory) Guild(id int) (*Guild, bool) {
	g, ok := d.guilds[id]
	return g, ok
}

// GuildByName finds a guild by case-insensitive name.
func (d *Directory) GuildByName(name string) (*Guild, bool) {
	for _, g := range d.guilds {
		if strings.EqualFold(g.Name, name) {
			return g, true
		}
	}
	return nil, false
}

func (d *Directory) RemoveGuild(id int) {
	delete(d.guilds, id)
}

func (d *Directory) AddParty(p *Party) {
	d.parties[p.ID] = p
}

func (d *Directory) Party(id string) (*Party, bool) {
	p, ok := d.parties[id]
	return p, ok
}

// RemoveParty drops the party and every cache entry that points at it.
func (d *Directory) RemoveParty(id string) {
	delete(d.parties, id)
	for charID, pid := range d.disconnectedParties {
		if pid == id {
			delete(d.disconnectedParties, charID)
		}
	}
}

// CacheDisconnectedParty remembers which party charID was in when it dropped.
func (d *Directory) CacheDisconnectedParty(charID int, partyID string) {
	d.disconnectedParties[charID] = partyID
}

// TakeDisconnectedParty returns and forgets the cached party of charID, if it still exists.
func (d *Directory) TakeDisconnectedParty(charID int) (*Party, bool) {
	id, ok := d.disconnectedParties[charID]
	if !ok {
		return nil, false
	}
	delete(d.disconnectedParties, charID)
	p, ok := d.parties[id]
	if !ok || !p.HasMember(charID) {
		return nil, false
	}
	return p, true
}

func (d *Directory) ForgetDisconnectedParty(charID int) {
	delete(d.disconnectedParties, charID)
}

// BroadcastServers sends msg to every game server.
func (d *Directory) BroadcastServers(msg []byte) {
	for _, srv := range d.serverOrder {
		srv.Conn.Send(msg)
	}
}

// BroadcastPlayers sends msg to every online player.
func (d *Directory) BroadcastPlayers(msg []byte) {
	for _, p := range d.Players() {
		p.Send(msg)
	}
}
