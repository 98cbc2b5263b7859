package guild

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/conntest"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

type removal struct {
	charID, successorID int
}

type fakeStore struct {
	nextID    int
	failNext  error
	ranks     map[int]int
	removals  []removal
	disbanded []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 100, ranks: make(map[int]int)}
}

func (f *fakeStore) fail() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeStore) Guilds(context.Context) ([]storage.Guild, error) {
	return []storage.Guild{{
		ID:      7,
		Name:    "Stored",
		Members: []storage.GuildMember{{CharID: 1, Name: "Alice", Rank: 0}, {CharID: 2, Name: "Bob", Rank: 9}},
	}}, nil
}

func (f *fakeStore) CreateGuild(_ context.Context, name string, leaderID int) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.nextID++
	f.ranks[leaderID] = 0
	return f.nextID, nil
}

func (f *fakeStore) AddGuildMember(_ context.Context, _, charID, rank int) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.ranks[charID] = rank
	return nil
}

func (f *fakeStore) SetGuildRank(_ context.Context, charID, rank int) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.ranks[charID] = rank
	return nil
}

func (f *fakeStore) RemoveGuildMember(_ context.Context, charID, successorID int) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.removals = append(f.removals, removal{charID, successorID})
	return nil
}

func (f *fakeStore) DisbandGuild(_ context.Context, guildID int) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.disbanded = append(f.disbanded, guildID)
	return nil
}

type fixture struct {
	dir    *session.Directory
	store  *fakeStore
	svc    *Service
	now    time.Time
	server *conntest.Conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:    session.NewDirectory(session.AllowMultiple),
		store:  newFakeStore(),
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		server: conntest.New("server"),
	}
	f.svc = New(f.dir, f.store, Config{DefaultRank: 9, OfficerRank: 1}, zap.NewNop(), WithClock(func() time.Time { return f.now }))
	f.dir.RegisterServer(f.server, 7000, "Town", "town")
	return f
}

func (f *fixture) login(charID int, name string) (*session.Player, *conntest.Conn) {
	conn := conntest.New(name)
	p, _ := f.dir.ReconnectCharacter(conn, session.CharacterInfo{
		AccountID: charID, CharID: charID, Name: name, GuildID: session.NoGuild, GuildRank: session.NoGuild,
	})
	return p, conn
}

// join puts p in the inviter's guild through Invite and AcceptInvite.
func (f *fixture) join(t *testing.T, p *session.Player, inviter *session.Player) {
	t.Helper()
	f.svc.Invite(inviter, p.Name)
	inv, ok := p.PendingInvitation(f.now)
	require.True(t, ok)
	p.ClearInvitation()
	f.svc.AcceptInvite(context.Background(), p, inv)
	require.True(t, p.InGuild())
}

// TestLoad tests that stored guilds populate the directory offline
func TestLoad(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.svc.Load(context.Background()))
	g, ok := f.dir.Guild(7)
	require.True(t, ok)
	assert.Equal(t, 2, g.Len())
	assert.Empty(t, g.OnlineMembers())

	p, _ := f.login(2, "Bob")
	p.GuildID = 7
	f.svc.PlayerConnected(p)
	assert.Equal(t, 9, p.GuildRank)
	assert.Len(t, g.OnlineMembers(), 1)
}

// TestCreate tests guild creation and its notifications
func TestCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, conn := f.login(1, "Alice")

	f.svc.Create(context.Background(), alice, "  The  Knights!! ")

	require.True(t, alice.InGuild())
	assert.Equal(t, LeaderRank, alice.GuildRank)
	g, ok := f.dir.GuildByName("the knights")
	require.True(t, ok)
	assert.Equal(t, "The Knights", g.Name)

	r := conn.Last(kephasmmo.OpGuildCreate)
	require.NotNil(t, r)
	assert.True(t, r.Bool())
	assert.Equal(t, 1, conn.Count(kephasmmo.OpGuildAllMembersUpdate))
	assert.Equal(t, 1, f.server.Count(kephasmmo.OpGuildMemberUpdate))
}

// TestCreateRejected tests short names, storage failures and founders already in a guild
func TestCreateRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		guild   string
		failErr error
		want    Refusal
	}{
		{name: "too short", guild: "!A!", want: RefusedInvalidName},
		{name: "name taken", guild: "Knights", failErr: storage.ErrNameTaken, want: RefusedNameTaken},
		{name: "storage down", guild: "Knights", failErr: errors.New("disk"), want: RefusedFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			alice, conn := f.login(1, "Alice")
			f.store.failNext = tt.failErr

			f.svc.Create(context.Background(), alice, tt.guild)

			assert.False(t, alice.InGuild())
			r := conn.Last(kephasmmo.OpGuildCreate)
			require.NotNil(t, r)
			assert.False(t, r.Bool())
			assert.Equal(t, int32(tt.want), r.Int32())
		})
	}

	t.Run("name held by a loaded guild", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.svc.Load(context.Background()))
		carol, conn := f.login(3, "Carol")

		f.svc.Create(context.Background(), carol, "STORED")

		assert.False(t, carol.InGuild())
		assert.Equal(t, 100, f.store.nextID, "storage not consulted")
		r := conn.Last(kephasmmo.OpGuildCreate)
		require.NotNil(t, r)
		assert.False(t, r.Bool())
		assert.Equal(t, int32(RefusedNameTaken), r.Int32())
	})

	t.Run("already in a guild", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		alice, conn := f.login(1, "Alice")
		f.svc.Create(context.Background(), alice, "Knights")
		id := alice.GuildID

		f.svc.Create(context.Background(), alice, "Rooks")

		assert.Equal(t, id, alice.GuildID)
		assert.Equal(t, 2, conn.Count(kephasmmo.OpGuildCreate))
		r := conn.Last(kephasmmo.OpGuildCreate)
		assert.False(t, r.Bool())
		assert.Equal(t, int32(RefusedInGuild), r.Int32())
	})
}

func requireRefusal(t *testing.T, conn *conntest.Conn, op kephasmmo.Opcode, want Refusal) {
	t.Helper()
	r := conn.Last(op)
	require.NotNil(t, r, "no %s reply", op)
	require.False(t, r.Bool(), "%s succeeded", op)
	assert.Equal(t, int32(want), r.Int32())
}

// promote raises p to rank by repeated promotions from leader.
func (f *fixture) promote(t *testing.T, leader, p *session.Player, rank int) {
	t.Helper()
	for p.GuildRank > rank {
		before := p.GuildRank
		f.svc.AdjustRank(context.Background(), leader, p.Name, true)
		require.Less(t, p.GuildRank, before)
	}
}

// TestInviteReasons tests the inviter's reply codes
func TestInviteReasons(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	carol, _ := f.login(3, "Carol")
	f.svc.Create(ctx, alice, "Knights")
	f.svc.Create(ctx, carol, "Rivals")

	f.svc.Invite(alice, "nobody")
	assert.Equal(t, 1, aliceConn.Count(kephasmmo.OpNoSuchPlayer))

	f.svc.Invite(alice, "carol")
	r := aliceConn.Last(kephasmmo.OpGuildInvite)
	assert.False(t, r.Bool())
	assert.Equal(t, int32(InviteTargetInGuild), r.Int32())

	f.svc.Invite(alice, "bob")
	r = aliceConn.Last(kephasmmo.OpGuildInvite)
	assert.False(t, r.Bool())
	assert.Equal(t, int32(InviteSent), r.Int32())
	r = bobConn.Last(kephasmmo.OpGuildInvite)
	assert.True(t, r.Bool())
	assert.Equal(t, "Alice", r.Text())
	assert.Equal(t, "Knights", r.Text())

	f.svc.Invite(alice, "bob")
	r = aliceConn.Last(kephasmmo.OpGuildInvite)
	r.Bool()
	assert.Equal(t, int32(InviteTargetBusy), r.Int32())

	f.now = f.now.Add(31 * time.Second)
	f.svc.Invite(alice, "bob")
	r = aliceConn.Last(kephasmmo.OpGuildInvite)
	r.Bool()
	assert.Equal(t, int32(InviteSent), r.Int32(), "expired invitation no longer blocks")
	assert.Equal(t, session.NoGuild, bob.GuildID)
}

// TestInviteRequiresOfficer tests that junior members cannot invite
func TestInviteRequiresOfficer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, _ := f.login(1, "Alice")
	bob, _ := f.login(2, "Bob")
	carol, carolConn := f.login(3, "Carol")
	f.svc.Create(context.Background(), alice, "Knights")
	f.join(t, bob, alice)

	f.svc.Invite(bob, "Carol")
	assert.Equal(t, 0, carolConn.Count(kephasmmo.OpGuildInvite))
	assert.False(t, carol.HasPendingInvitation(f.now))
}

// TestAcceptInvite tests joining and the messages members receive
func TestAcceptInvite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, aliceConn := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	f.svc.Create(context.Background(), alice, "Knights")
	aliceConn.Reset()

	f.join(t, bob, alice)

	assert.Equal(t, 9, bob.GuildRank)
	assert.Equal(t, 9, f.store.ranks[2])
	r := aliceConn.Last(kephasmmo.OpGuildMemberJoined)
	require.NotNil(t, r)
	assert.Equal(t, "Bob", r.Text())
	assert.Equal(t, 0, bobConn.Count(kephasmmo.OpGuildMemberJoined))
	assert.Equal(t, 1, bobConn.Count(kephasmmo.OpGuildAllMembersUpdate))
}

// TestLeaveReassignsLeader tests that a sole leader leaving promotes the most senior member
func TestLeaveReassignsLeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.login(1, "Alice")
	bob, _ := f.login(2, "Bob")
	carol, carolConn := f.login(3, "Carol")
	f.svc.Create(ctx, alice, "Knights")
	f.join(t, bob, alice)
	f.join(t, carol, alice)
	f.svc.AdjustRank(ctx, alice, "Carol", true)
	require.Equal(t, 8, carol.GuildRank)
	g, _ := f.dir.Guild(alice.GuildID)

	f.svc.Leave(ctx, alice)

	assert.Equal(t, []removal{{charID: 1, successorID: 3}}, f.store.removals)
	assert.False(t, alice.InGuild())
	assert.Equal(t, LeaderRank, carol.GuildRank)
	assert.Equal(t, 1, g.LeaderCount())
	r := aliceConn.Last(kephasmmo.OpGuildLeave)
	assert.True(t, r.Bool())
	r = carolConn.Last(kephasmmo.OpGuildLeave)
	assert.False(t, r.Bool())
	assert.Equal(t, "Alice", r.Text())
}

// TestLeaveLastMemberDeletesGuild tests that the guild disappears with its last member
func TestLeaveLastMemberDeletesGuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.login(1, "Alice")
	f.svc.Create(ctx, alice, "Knights")
	id := alice.GuildID

	f.svc.Leave(ctx, alice)

	_, ok := f.dir.Guild(id)
	assert.False(t, ok)
	assert.Equal(t, []int{id}, f.store.disbanded)
}

// TestLeaveStorageFailure tests that memory is untouched when the write fails
func TestLeaveStorageFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.login(1, "Alice")
	bob, _ := f.login(2, "Bob")
	f.svc.Create(ctx, alice, "Knights")
	f.join(t, bob, alice)
	f.store.failNext = errors.New("disk")

	f.svc.Leave(ctx, alice)

	assert.True(t, alice.InGuild())
	g, _ := f.dir.Guild(alice.GuildID)
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 1, g.LeaderCount())
}

// TestAdjustRank tests promotion and demotion bounds
func TestAdjustRank(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	f.svc.Create(ctx, alice, "Knights")
	f.join(t, bob, alice)

	f.svc.AdjustRank(ctx, alice, "bob", false)
	assert.Equal(t, 9, bob.GuildRank, "cannot demote below the default rank")
	requireRefusal(t, aliceConn, kephasmmo.OpGuildAdjustRank, RefusedRankBounds)

	f.svc.AdjustRank(ctx, alice, "bob", true)
	assert.Equal(t, 8, bob.GuildRank)
	r := bobConn.Last(kephasmmo.OpGuildAdjustRank)
	require.NotNil(t, r)
	assert.True(t, r.Bool(), "success")
	assert.True(t, r.Bool(), "promotion")
	assert.Equal(t, "Bob", r.Text())

	f.svc.AdjustRank(ctx, bob, "alice", false)
	assert.Equal(t, LeaderRank, alice.GuildRank, "junior members cannot adjust")
	requireRefusal(t, bobConn, kephasmmo.OpGuildAdjustRank, RefusedNotOfficer)

	f.svc.AdjustRank(ctx, alice, "nobody", true)
	requireRefusal(t, aliceConn, kephasmmo.OpGuildAdjustRank, RefusedNoSuchMember)

	f.svc.AdjustRank(ctx, alice, "alice", false)
	assert.Equal(t, LeaderRank, alice.GuildRank, "the last leader cannot step down")
	requireRefusal(t, aliceConn, kephasmmo.OpGuildAdjustRank, RefusedLastLeader)

	f.promote(t, alice, bob, 1)
	f.svc.AdjustRank(ctx, bob, "bob", true)
	assert.Equal(t, 1, bob.GuildRank, "officers cannot promote themselves")
	requireRefusal(t, bobConn, kephasmmo.OpGuildAdjustRank, RefusedNotJunior)

	f.svc.AdjustRank(ctx, bob, "alice", false)
	assert.Equal(t, LeaderRank, alice.GuildRank, "officers cannot demote seniors")
	requireRefusal(t, bobConn, kephasmmo.OpGuildAdjustRank, RefusedNotJunior)

	f.svc.AdjustRank(ctx, bob, "bob", false)
	assert.Equal(t, 2, bob.GuildRank, "anyone may step down")
}

// TestKick tests kicking online and offline members
func TestKick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	f.svc.Create(ctx, alice, "Knights")
	f.join(t, bob, alice)
	g, _ := f.dir.Guild(alice.GuildID)
	g.Populate(5, "Offline", 9)

	f.svc.Kick(ctx, bob, "Alice")
	assert.True(t, alice.InGuild(), "members cannot kick")
	requireRefusal(t, bobConn, kephasmmo.OpGuildKick, RefusedNotOfficer)

	f.svc.Kick(ctx, alice, "nobody")
	requireRefusal(t, aliceConn, kephasmmo.OpGuildKick, RefusedNoSuchMember)

	f.promote(t, alice, bob, 1)
	f.svc.Kick(ctx, bob, "Alice")
	assert.True(t, alice.InGuild(), "cannot kick a senior member")
	requireRefusal(t, bobConn, kephasmmo.OpGuildKick, RefusedNotJunior)

	f.svc.Kick(ctx, alice, "Bob")
	assert.False(t, bob.InGuild())
	r := bobConn.Last(kephasmmo.OpGuildKick)
	require.NotNil(t, r)
	assert.True(t, r.Bool())
	assert.Equal(t, "Bob", r.Text())
	assert.True(t, r.Bool(), "kicked player is told it was them")
	r = aliceConn.Last(kephasmmo.OpGuildKick)
	assert.True(t, r.Bool())
	assert.Equal(t, "Bob", r.Text())
	assert.False(t, r.Bool())

	f.svc.Kick(ctx, alice, "offline")
	_, ok := g.Member(5)
	assert.False(t, ok)
}

// TestDisband tests disbanding and who may do it
func TestDisband(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	f.svc.Create(ctx, alice, "Knights")
	f.join(t, bob, alice)
	id := alice.GuildID

	f.svc.Disband(ctx, bob)
	_, ok := f.dir.Guild(id)
	require.True(t, ok, "only the leader may disband")

	f.svc.Disband(ctx, alice)
	_, ok = f.dir.Guild(id)
	assert.False(t, ok)
	assert.False(t, alice.InGuild())
	assert.False(t, bob.InGuild())
	assert.Equal(t, 1, bobConn.Count(kephasmmo.OpGuildDisband))

	r := f.server.Last(kephasmmo.OpGuildDisband)
	require.NotNil(t, r)
	assert.Equal(t, int32(2), r.Int32())
	assert.Equal(t, int32(1), r.Int32())
	assert.Equal(t, int32(2), r.Int32())
}

// TestRemoveCharacter tests that deleting the sole leader's character hands the guild over
func TestRemoveCharacter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.svc.Load(context.Background()))

	require.NoError(t, f.svc.RemoveCharacter(context.Background(), 7, 1))

	g, _ := f.dir.Guild(7)
	m, ok := g.Member(2)
	require.True(t, ok)
	assert.Equal(t, LeaderRank, m.Rank)
	assert.Equal(t, []removal{{charID: 1, successorID: 2}}, f.store.removals)
}

// TestOfficerMessage tests that only officers receive officer chat
func TestOfficerMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice, aliceConn := f.login(1, "Alice")
	bob, bobConn := f.login(2, "Bob")
	f.svc.Create(context.Background(), alice, "Knights")
	f.join(t, bob, alice)

	f.svc.OfficerMessage(alice, "hello officers")
	f.svc.OfficerMessage(bob, "let me in")
	f.svc.Message(bob, "hello all")

	assert.Equal(t, 2, aliceConn.Count(kephasmmo.OpMessageChannel))
	assert.Equal(t, 1, bobConn.Count(kephasmmo.OpMessageChannel))
	r := bobConn.Last(kephasmmo.OpMessageChannel)
	assert.Equal(t, int32(session.ChannelGuild), r.Int32())
	assert.Equal(t, "Bob", r.Text())
}

// TestSanitizeName tests guild name cleanup
func TestSanitizeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Knights", "Knights"},
		{"  The   Knights  ", "The Knights"},
		{"The\tKnights", "TheKnights"},
		{"K$n!i@g#h%t^s", "Knights"},
		{"abcdefghijklmnopqrstuvwxyz", "abcdefghijklmnopqrst"},
		{"Cafe\u0301 Knights", "Caf\u00e9 Knights"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}
