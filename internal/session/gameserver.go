package session

import (
	"sort"

	"github.com/luciancaetano/kephasmmo"
)

// GameServer is a game-server instance logged in over Conn.
type GameServer struct {
	Conn  kephasmmo.Conn
	Port  int
	Level string
	Zone  string

	chars map[int]struct{}
}

// Hosts reports whether the character is currently bound to this instance.
func (s *GameServer) Hosts(charID int) bool {
	_, ok := s.chars[charID]
	return ok
}

// HostedChars returns the bound character ids in ascending order.
func (s *GameServer) HostedChars() []int {
	ids := make([]int, 0, len(s.chars))
	for id := range s.chars {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
