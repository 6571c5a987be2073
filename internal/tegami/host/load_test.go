package host_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Tegami/internal/tegami/host"
)

func TestParse_JSON(t *testing.T) {
	snap, err := host.Parse([]byte(`{
		"characterId": "yuki",
		"sessionId": "chat-7",
		"name1": "阿明",
		"name2": "雪",
		"character": {"description": "高中生，喜欢在教室里看书"},
		"transcript": [{"text": "早上好", "isUser": true}, {"text": "早！"}],
		"characterBookEntries": [{"content": "时代：2044年"}]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !snap.HasCharacter() {
		t.Error("expected a character")
	}
	if got := snap.Scope().String(); got != "yuki/chat-7" {
		t.Errorf("scope = %q", got)
	}
	if len(snap.Transcript) != 2 || !snap.Transcript[0].IsUser || snap.Transcript[1].IsUser {
		t.Errorf("transcript = %+v", snap.Transcript)
	}
	if snap.CharacterBook[0].Content != "时代：2044年" {
		t.Errorf("book = %+v", snap.CharacterBook)
	}
}

func TestParse_YAML(t *testing.T) {
	snap, err := host.Parse([]byte(`
characterId: knight
name2: 艾琳
memoryLedger:
  entries:
    - date: 1999年3月2日
      summary: 初遇
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.MemoryLedger == nil || snap.MemoryLedger.Entries[0].Date != "1999年3月2日" {
		t.Errorf("ledger = %+v", snap.MemoryLedger)
	}
	if snap.Scope().SessionID != "default" {
		t.Errorf("session should default, got %q", snap.Scope().SessionID)
	}
}

func TestParse_RejectsWrongShape(t *testing.T) {
	_, err := host.Parse([]byte(`{"transcript": [{"isUser": true}]}`))
	if !errors.Is(err, host.ErrInvalidSnapshot) {
		t.Fatalf("err = %v, want ErrInvalidSnapshot", err)
	}
	_, err = host.Parse([]byte(`{"characterId": 42}`))
	if !errors.Is(err, host.ErrInvalidSnapshot) {
		t.Fatalf("err = %v, want ErrInvalidSnapshot", err)
	}
}

func TestParse_Empty(t *testing.T) {
	snap, err := host.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.HasCharacter() {
		t.Error("empty snapshot must have no character")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	if err := os.WriteFile(path, []byte("characterId: c1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := host.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if snap.CharacterID != "c1" {
		t.Errorf("characterId = %q", snap.CharacterID)
	}
}

func TestNilSnapshot(t *testing.T) {
	var snap *host.Snapshot
	if snap.HasCharacter() {
		t.Error("nil snapshot has no character")
	}
	if snap.CharacterName() != "TA" || snap.UserName() != "我" {
		t.Error("nil snapshot names should use placeholders")
	}
}
