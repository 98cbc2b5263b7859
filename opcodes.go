package kephasmmo

import "strconv"

// Opcode identifies a record's wire format and the handlers that react to it.
type Opcode byte

// Opcode numbering is shared with game clients and game servers; never renumber.
const (
	OpUndefined             Opcode = 0
	OpConnected             Opcode = 1
	OpDisconnected          Opcode = 2
	OpCreateAccountPassword Opcode = 3
	OpCreateAccountSteam    Opcode = 4
	OpLoginPassword         Opcode = 5
	OpLoginSteam            Opcode = 6
	OpMessageChannel        Opcode = 7
	OpMessagePlayer         Opcode = 8
	OpMessageParty          Opcode = 9
	OpMessageGuild          Opcode = 10
	OpPartyInvite           Opcode = 11
	OpPartyLeave            Opcode = 12
	OpPartyKick             Opcode = 13
	OpAcceptInvite          Opcode = 14
	OpDeclineInvite         Opcode = 15
	OpGuildCreate           Opcode = 16
	OpGuildInvite           Opcode = 17
	OpGuildDisband          Opcode = 18
	OpGuildLeave            Opcode = 19
	OpCreateCharacter       Opcode = 20
	OpGetCharacters         Opcode = 21
	OpGetIPAndPort          Opcode = 22
	OpGetCharacter          Opcode = 23
	OpLoginServer           Opcode = 24
	OpLoginClientWithCookie Opcode = 25
	OpSaveCharacter         Opcode = 26
	OpNoSuchPlayer          Opcode = 27
	OpKeepAliveProbe        Opcode = 28
	OpAdminMessage          Opcode = 29
	OpGuildMemberUpdate     Opcode = 30
	OpGuildAllMembersUpdate Opcode = 31
	OpGuildMemberJoined     Opcode = 32
	OpDeleteCharacter       Opcode = 33
	OpGuildKick             Opcode = 34
	OpMessageGuildOfficer   Opcode = 35
	OpGuildAdjustRank       Opcode = 36
	OpPartyJoin             Opcode = 37
	OpPartyFullInfo         Opcode = 38
	OpPartyDisband          Opcode = 39
	OpPartyChangeLeader     Opcode = 40
	OpPartyMembersSync      Opcode = 41
	OpSaveServerInfo        Opcode = 42
	OpSavePersistentObject  Opcode = 43
	OpLogout                Opcode = 44
	OpMessagePartyLeader    Opcode = 45
)

var opcodeNames = map[Opcode]string{
	OpUndefined:             "Undefined",
	OpConnected:             "Connected",
	OpDisconnected:          "Disconnected",
	OpCreateAccountPassword: "CreateAccountPassword",
	OpCreateAccountSteam:    "CreateAccountSteam",
	OpLoginPassword:         "LoginPassword",
	OpLoginSteam:            "LoginSteam",
	OpMessageChannel:        "MessageChannel",
	OpMessagePlayer:         "MessagePlayer",
	OpMessageParty:          "MessageParty",
	OpMessageGuild:          "MessageGuild",
	OpPartyInvite:           "PartyInvite",
	OpPartyLeave:            "PartyLeave",
	OpPartyKick:             "PartyKick",
	OpAcceptInvite:          "AcceptInvite",
	OpDeclineInvite:         "DeclineInvite",
	OpGuildCreate:           "GuildCreate",
	OpGuildInvite:           "GuildInvite",
	OpGuildDisband:          "GuildDisband",
	OpGuildLeave:            "GuildLeave",
	OpCreateCharacter:       "CreateCharacter",
	OpGetCharacters:         "GetCharacters",
	OpGetIPAndPort:          "GetIpAndPort",
	OpGetCharacter:          "GetCharacter",
	OpLoginServer:           "LoginServer",
	OpLoginClientWithCookie: "LoginClientWithCookie",
	OpSaveCharacter:         "SaveCharacter",
	OpNoSuchPlayer:          "NoSuchPlayer",
	OpKeepAliveProbe:        "KeepAliveProbe",
	OpAdminMessage:          "AdminMessage",
	OpGuildMemberUpdate:     "GuildMemberUpdate",
	OpGuildAllMembersUpdate: "GuildAllMembersUpdate",
	OpGuildMemberJoined:     "GuildMemberJoined",
	OpDeleteCharacter:       "DeleteCharacter",
	OpGuildKick:             "GuildKick",
	OpMessageGuildOfficer:   "MessageGuildOfficer",
	OpGuildAdjustRank:       "GuildAdjustRank",
	OpPartyJoin:             "PartyJoin",
	OpPartyFullInfo:         "PartyFullInfo",
	OpPartyDisband:          "PartyDisband",
	OpPartyChangeLeader:     "PartyChangeLeader",
	OpPartyMembersSync:      "PartyMembersSync",
	OpSaveServerInfo:        "SaveServerInfo",
	OpSavePersistentObject:  "SavePersistentObject",
	OpLogout:                "Logout",
	OpMessagePartyLeader:    "MessagePartyLeader",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "Opcode(" + strconv.Itoa(int(o)) + ")"
}
