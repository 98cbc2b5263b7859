package session

import (
	"encoding/json"
	"sort"
	"strings"
)

// GuildMember is one roster entry. The JSON names are what clients expect.
type GuildMember struct {
	CharID int    `json:"Id"`
	Name   string `json:"MemberName"`
	Rank   int    `json:"GuildRank"`
	Online bool   `json:"Online"`
}

// Guild is the in-memory state of one guild. Rank 0 is the leader; higher numbers are junior.
//
// The online set is maintained alongside members on every connect, disconnect, join and
// removal, never recomputed from the roster.
type Guild struct {
	ID   int
	Name string

	members map[int]*GuildMember
	online  map[int]*Player
}

func NewGuild(id int, name string) *Guild {
	return &Guild{
		ID:      id,
		Name:    name,
		members: make(map[int]*GuildMember),
		online:  make(map[int]*Player),
	}
}

// Populate adds an offline member, as loaded from storage.
func (g *Guild) Populate(charID int, name string, rank int) {
	g.members[charID] = &GuildMember{CharID: charID, Name: name, Rank: rank}
}

// AddMember adds an online player at rank and updates the player's guild fields.
func (g *Guild) AddMember(p *Player, rank int) {
	g.members[p.CharID] = &GuildMember{CharID: p.CharID, Name: p.Name, Rank: rank, Online: true}
	g.online[p.CharID] = p
	p.GuildID = g.ID
	p.GuildRank = rank
}

// RemoveMember drops a member. If the member is online its guild fields are cleared.
func (g *Guild) RemoveMember(charID int) {
	if p, ok := g.online[charID]; ok {
		p.GuildID = NoGuild
		p.GuildRank = NoGuild
		delete(g.online, charID)
	}
	delete(g.members, charID)
}

func (g *Guild) Member(charID int) (GuildMember, bool) {
	m, ok := g.members[charID]
	if !ok {
		return GuildMember{}, false
	}
	return *m, true
}

// MemberByName finds a member by case-insensitive name.
func (g *Guild) MemberByName(name string) (GuildMember, bool) {
	for _, m := range g.members {
		if strings.EqualFold(m.Name, name) {
			return *m, true
		}
	}
	return GuildMember{}, false
}

// SetRank changes a member's rank, including the online player's copy.
func (g *Guild) SetRank(charID, rank int) {
	if m, ok := g.members[charID]; ok {
		m.Rank = rank
	}
	if p, ok := g.online[charID]; ok {
		p.GuildRank = rank
	}
}

// SetOnline marks the player online. It returns false if the player is not a member.
func (g *Guild) SetOnline(p *Player) bool {
	m, ok := g.members[p.CharID]
	if !ok {
		return false
	}
	m.Online = true
	g.online[p.CharID] = p
	p.GuildRank = m.Rank
	return true
}

// SetOffline marks the player offline if p is the online instance of that member.
func (g *Guild) SetOffline(p *Player) {
	if g.online[p.CharID] != p {
		return
	}
	delete(g.online, p.CharID)
	if m, ok := g.members[p.CharID]; ok {
		m.Online = false
	}
}

func (g *Guild) Len() int {
	return len(g.members)
}

// LeaderCount returns the number of rank 0 members.
func (g *Guild) LeaderCount() int {
	n := 0
	for _, m := range g.members {
		if m.Rank == 0 {
			n++
		}
	}
	return n
}

// Successor returns the member that would lead if charID left: the member with the lowest
// rank, ties broken by lowest char id. It returns NoGuild when nobody else is left.
func (g *Guild) Successor(excluding int) int {
	best := NoGuild
	bestRank := 0
	for id, m := range g.members {
		if id == excluding {
			continue
		}
		if best == NoGuild || m.Rank < bestRank || (m.Rank == bestRank && id < best) {
			best, bestRank = id, m.Rank
		}
	}
	return best
}

// Members returns the roster ordered by rank, then char id.
func (g *Guild) Members() []GuildMember {
	out := make([]GuildMember, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].CharID < out[j].CharID
	})
	return out
}

// MemberIDs returns every member's char id in ascending order.
func (g *Guild) MemberIDs() []int {
	ids := make([]int, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OnlineMembers returns online members ordered by char id.
func (g *Guild) OnlineMembers() []*Player {
	out := make([]*Player, 0, len(g.online))
	for _, p := range g.online {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharID < out[j].CharID })
	return out
}

// OnlineOfficers returns online members whose rank is officerRank or better.
func (g *Guild) OnlineOfficers(officerRank int) []*Player {
	var out []*Player
	for _, p := range g.OnlineMembers() {
		if p.GuildRank <= officerRank {
			out = append(out, p)
		}
	}
	return out
}

// RosterJSON renders {"Members":[...]}.
func (g *Guild) RosterJSON() string {
	b, _ := json.Marshal(struct {
		Members []GuildMember `json:"Members"`
	}{Members: g.Members()})
	return string(b)
}
