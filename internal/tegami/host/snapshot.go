// Package host describes the read-only view of the host application that
// Tegami is handed: who is talking, the recent transcript, and lore. Every
// component receives a *Snapshot explicitly; nothing reaches for host state
// on its own.
package host

import (
	"strings"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// Snapshot is one reading of the host context. The zero value (or nil) means
// "no character selected".
type Snapshot struct {
	CharacterID string `json:"characterId,omitempty" yaml:"characterId,omitempty"`
	SessionID   string `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	// Name1 is the user's display name, Name2 the character's.
	Name1         string      `json:"name1,omitempty" yaml:"name1,omitempty"`
	Name2         string      `json:"name2,omitempty" yaml:"name2,omitempty"`
	Character     Character   `json:"character" yaml:"character"`
	UserPersona   string      `json:"userPersona,omitempty" yaml:"userPersona,omitempty"`
	Transcript    []Entry     `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	CharacterBook []BookEntry `json:"characterBookEntries,omitempty" yaml:"characterBookEntries,omitempty"`
	MemoryLedger  *Ledger     `json:"memoryLedger,omitempty" yaml:"memoryLedger,omitempty"`
}

// Character carries the free-text card fields used for genre classification
// and prompting.
type Character struct {
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Scenario    string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Personality string `json:"personality,omitempty" yaml:"personality,omitempty"`
}

// Entry is one transcript line of the host conversation.
type Entry struct {
	Text   string `json:"text" yaml:"text"`
	IsUser bool   `json:"isUser" yaml:"isUser"`
}

// BookEntry is one lore (world-info) entry.
type BookEntry struct {
	Content string `json:"content" yaml:"content"`
}

// Ledger is the host's own memory of past events.
type Ledger struct {
	Entries []LedgerEntry `json:"entries,omitempty" yaml:"entries,omitempty"`
}

// LedgerEntry is one remembered event. Date is free text as recorded by
// the host, typically "YYYY年M月D日".
type LedgerEntry struct {
	Date    string `json:"date,omitempty" yaml:"date,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// HasCharacter reports whether a character is selected.
func (s *Snapshot) HasCharacter() bool {
	return s != nil && strings.TrimSpace(s.CharacterID) != ""
}

// Scope returns the isolation scope for this snapshot, defaulting absent
// parts.
func (s *Snapshot) Scope() kv.Scope {
	if s == nil {
		return kv.NewScope("", "")
	}
	return kv.NewScope(s.CharacterID, s.SessionID)
}

// CharacterName returns Name2, or a generic placeholder when unset.
func (s *Snapshot) CharacterName() string {
	if s != nil && strings.TrimSpace(s.Name2) != "" {
		return strings.TrimSpace(s.Name2)
	}
	return "TA"
}

// UserName returns Name1, or a generic placeholder when unset.
func (s *Snapshot) UserName() string {
	if s != nil && strings.TrimSpace(s.Name1) != "" {
		return strings.TrimSpace(s.Name1)
	}
	return "我"
}

// CardText joins description, scenario and personality for keyword scans.
func (s *Snapshot) CardText() string {
	if s == nil {
		return ""
	}
	return strings.Join([]string{s.Character.Description, s.Character.Scenario, s.Character.Personality}, "\n")
}
