package session

import (
	"errors"
	"slices"
)

// MinPartySize is the smallest party that may exist; shrinking below it disbands.
const MinPartySize = 2

// NoLeader is the leader id of a disbanded party.
const NoLeader = -1

var (
	ErrPartyFull  = errors.New("session: party full")
	ErrNotAMember = errors.New("session: not a party member")
	ErrAlreadyIn  = errors.New("session: already a party member")
)

// MemberInfo is the last-known state of a member, kept while the member is offline.
type MemberInfo struct {
	Name  string
	CurHP int
	MaxHP int
}

// Party is an ordered group of 2..max characters with one leader.
type Party struct {
	ID       string
	LeaderID int

	members []int
	info    map[int]*MemberInfo
}

// NewParty forms a party of leader and member and sets both players' PartyID.
func NewParty(id string, leader, member *Player) *Party {
	p := &Party{
		ID:       id,
		LeaderID: leader.CharID,
		info:     make(map[int]*MemberInfo),
	}
	p.add(leader)
	p.add(member)
	return p
}

func (p *Party) add(pl *Player) {
	p.members = append(p.members, pl.CharID)
	p.info[pl.CharID] = &MemberInfo{Name: pl.Name, CurHP: 1, MaxHP: 1}
	pl.PartyID = p.ID
}

// AddMember appends pl unless the party already has maxSize members.
func (p *Party) AddMember(pl *Player, maxSize int) error {
	if p.HasMember(pl.CharID) {
		return ErrAlreadyIn
	}
	if p.IsFull(maxSize) {
		return ErrPartyFull
	}
	p.add(pl)
	return nil
}

// Remove drops charID from the party. When the party is already at MinPartySize nothing is
// removed and disband is true: the caller must disband instead. Removing the leader hands
// leadership to the first remaining member.
func (p *Party) Remove(charID int) (disband bool, err error) {
	if !p.HasMember(charID) {
		return false, ErrNotAMember
	}
	if len(p.members) <= MinPartySize {
		return true, nil
	}
	p.members = slices.DeleteFunc(p.members, func(id int) bool { return id == charID })
	delete(p.info, charID)
	if p.LeaderID == charID {
		p.LeaderID = p.members[0]
	}
	return false, nil
}

// Clear empties the party and returns the former member ids.
func (p *Party) Clear() []int {
	former := p.members
	p.members = nil
	p.LeaderID = NoLeader
	return former
}

// SetLeader makes charID the leader.
func (p *Party) SetLeader(charID int) error {
	if !p.HasMember(charID) {
		return ErrNotAMember
	}
	p.LeaderID = charID
	return nil
}

func (p *Party) HasMember(charID int) bool {
	return slices.Contains(p.members, charID)
}

func (p *Party) IsFull(maxSize int) bool {
	return len(p.members) >= maxSize
}

func (p *Party) Len() int {
	return len(p.members)
}

// Members returns member ids in join order.
func (p *Party) Members() []int {
	return slices.Clone(p.members)
}

// CachedName returns the name the member had when last seen.
func (p *Party) CachedName(charID int) string {
	if mi, ok := p.info[charID]; ok {
		return mi.Name
	}
	return ""
}

// UpdateVitals records hit points reported by a game server.
func (p *Party) UpdateVitals(charID, curHP, maxHP int) bool {
	mi, ok := p.info[charID]
	if !ok {
		return false
	}
	mi.CurHP = curHP
	mi.MaxHP = maxHP
	return true
}

// Vitals returns the last hit points synced for charID.
func (p *Party) Vitals(charID int) (MemberInfo, bool) {
	mi, ok := p.info[charID]
	if !ok {
		return MemberInfo{}, false
	}
	return *mi, true
}
