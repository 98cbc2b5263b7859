package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/luciancaetano/kephasmmo"
)

// TestEncode tests the Encode function with various field lists
func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		op        kephasmmo.Opcode
		fields    []any
		want      []byte
		wantError bool
	}{
		{
			name: "opcode only",
			op:   kephasmmo.OpKeepAliveProbe,
			want: []byte{28},
		},
		{
			name:   "bool and int32",
			op:     kephasmmo.OpGuildInvite,
			fields: []any{false, 2},
			want:   []byte{17, 0, 2, 0, 0, 0},
		},
		{
			name:   "string is length prefixed little endian",
			op:     kephasmmo.OpPartyJoin,
			fields: []any{"Ann"},
			want:   []byte{37, 3, 0, 0, 0, 'A', 'n', 'n'},
		},
		{
			name:   "negative int32",
			op:     kephasmmo.OpGuildMemberUpdate,
			fields: []any{int32(-1)},
			want:   []byte{30, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name:   "int slice carries a count",
			op:     kephasmmo.OpGuildDisband,
			fields: []any{[]int{7, 9}},
			want:   []byte{18, 2, 0, 0, 0, 7, 0, 0, 0, 9, 0, 0, 0},
		},
		{
			name:      "unsupported type",
			op:        kephasmmo.OpAdminMessage,
			fields:    []any{int64(1)},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Encode(tt.op, tt.fields...)
			if (err != nil) != tt.wantError {
				t.Fatalf("Encode() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				return
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestReaderRoundTrip tests that every writer primitive reads back through the Reader
func TestReaderRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMessage(kephasmmo.OpGetCharacter).
		Bool(true).
		Int(-42).
		Text("Zoë").
		Float32(1.5).
		Uint8(9).
		Bytes()

	r := NewReader(msg)
	op, err := r.Opcode()
	if err != nil {
		t.Fatalf("Opcode() error = %v", err)
	}
	if op != kephasmmo.OpGetCharacter {
		t.Errorf("Opcode() = %v, want %v", op, kephasmmo.OpGetCharacter)
	}
	if !r.Bool() {
		t.Error("Bool() = false, want true")
	}
	if v := r.Int(); v != -42 {
		t.Errorf("Int() = %d, want -42", v)
	}
	if s := r.Text(); s != "Zoë" {
		t.Errorf("Text() = %q, want %q", s, "Zoë")
	}
	if f := r.Float32(); f != 1.5 {
		t.Errorf("Float32() = %v, want 1.5", f)
	}
	if b := r.Uint8(); b != 9 {
		t.Errorf("Uint8() = %d, want 9", b)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}
}

// TestReaderMultipleRecords tests looping over concatenated records
func TestReaderMultipleRecords(t *testing.T) {
	t.Parallel()

	msg := NewMessage(kephasmmo.OpKeepAliveProbe).
		Op(kephasmmo.OpPartyLeave).
		Op(kephasmmo.OpGuildInvite).Text("Bob").
		Bytes()

	var got []kephasmmo.Opcode
	r := NewReader(msg)
	for r.Len() > 0 {
		op, err := r.Opcode()
		if err != nil {
			t.Fatalf("Opcode() error = %v", err)
		}
		got = append(got, op)
		if op == kephasmmo.OpGuildInvite {
			if name := r.Text(); name != "Bob" {
				t.Errorf("Text() = %q, want Bob", name)
			}
		}
	}

	want := []kephasmmo.Opcode{kephasmmo.OpKeepAliveProbe, kephasmmo.OpPartyLeave, kephasmmo.OpGuildInvite}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestReaderMalformedString tests that bad string lengths decode as empty and never panic
func TestReaderMalformedString(t *testing.T) {
	t.Parallel()

	negative := make([]byte, 4)
	binary.LittleEndian.PutUint32(negative, uint32(0xFFFFFFF0))

	oversized := make([]byte, 4)
	binary.LittleEndian.PutUint32(oversized, 1000)
	oversized = append(oversized, 'a', 'b')

	tests := []struct {
		name string
		data []byte
	}{
		{name: "negative length", data: negative},
		{name: "length beyond message", data: oversized},
		{name: "short length prefix", data: []byte{1, 0}},
		{name: "empty", data: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewReader(tt.data)
			if s := r.Text(); s != "" {
				t.Errorf("Text() = %q, want empty", s)
			}
			if r.Len() != 0 {
				t.Errorf("Len() = %d, want 0 after malformed string", r.Len())
			}
			if r.Err() != nil {
				t.Errorf("Err() = %v, want nil for a malformed string", r.Err())
			}
		})
	}
}

// TestReaderTruncated tests that short fixed-width reads set a sticky error
func TestReaderTruncated(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{1, 2})
	if v := r.Int32(); v != 0 {
		t.Errorf("Int32() = %d, want 0", v)
	}
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Fatalf("Err() = %v, want ErrTruncated", r.Err())
	}
	if r.Bool() {
		t.Error("Bool() after truncation = true, want false")
	}
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Errorf("Err() = %v, want sticky ErrTruncated", r.Err())
	}
}

// TestReaderFork tests that forks read independently of their parent
func TestReaderFork(t *testing.T) {
	t.Parallel()

	r := NewReader(NewMessage(kephasmmo.OpSaveCharacter).Int(5).Text("{}").Bytes())
	if _, err := r.Opcode(); err != nil {
		t.Fatal(err)
	}

	a := r.Fork()
	b := r.Fork()
	if a.Int() != 5 || b.Int() != 5 {
		t.Fatal("forks must start at the parent offset")
	}
	_ = a.Text()
	if r.Offset() != 1 {
		t.Errorf("parent Offset() = %d, want 1", r.Offset())
	}

	r.SetOffset(a.Offset())
	if r.Len() != 0 {
		t.Errorf("Len() = %d after SetOffset, want 0", r.Len())
	}

	r.SetOffset(1 << 20)
	if r.Offset() != len(r.data) {
		t.Errorf("SetOffset() did not clamp, Offset() = %d", r.Offset())
	}
}

// TestOpcodeString tests opcode names
func TestOpcodeString(t *testing.T) {
	t.Parallel()

	if got := kephasmmo.OpPartyFullInfo.String(); got != "PartyFullInfo" {
		t.Errorf("String() = %q, want PartyFullInfo", got)
	}
	if got := kephasmmo.Opcode(200).String(); got != "Opcode(200)" {
		t.Errorf("String() = %q, want Opcode(200)", got)
	}
}

// BenchmarkEncode benchmarks a typical roster push
func BenchmarkEncode(b *testing.B) {
	roster := `{"Members":[{"Id":1,"MemberName":"Ann","GuildRank":0,"Online":true}]}`
	for i := 0; i < b.N; i++ {
		_ = NewMessage(kephasmmo.OpGuildAllMembersUpdate).Text(roster).Bytes()
	}
}
