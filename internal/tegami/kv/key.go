// Package kv is Tegami's scoped key/value layer: an ordered list of storage
// backends (remote primary first, device-local secondary last) addressed by
// keys that are either global or namespaced by a (character, session) scope.
//
// kv knows nothing about the values it stores; callers serialize their own
// records.
package kv

import "strings"

// DefaultPart stands in for an absent character or session identifier so a
// scope is never undefined.
const DefaultPart = "default"

// DefaultNamespace prefixes scoped keys when the caller does not pick one.
const DefaultNamespace = "tegami"

const globalPrefix = "global_"

// Well-known data types stored under a scope or globally.
const (
	DataConversation = "wechat_data"
	DataSettings     = "global_settings"
)

// Scope identifies one isolation domain: a character talking in a session.
type Scope struct {
	CharacterID string
	SessionID   string
}

// NewScope builds a Scope, substituting DefaultPart for blank identifiers.
func NewScope(characterID, sessionID string) Scope {
	return Scope{
		CharacterID: orDefault(characterID),
		SessionID:   orDefault(sessionID),
	}
}

// Normalize returns s with blank parts replaced by DefaultPart.
func (s Scope) Normalize() Scope {
	return NewScope(s.CharacterID, s.SessionID)
}

// String renders the scope as "character/session" for logs.
func (s Scope) String() string {
	n := s.Normalize()
	return n.CharacterID + "/" + n.SessionID
}

func orDefault(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return DefaultPart
	}
	return v
}

// Key addresses one stored value.
type Key struct {
	global bool
	scope  Scope
	name   string
}

// Scoped returns the key for dataType under scope.
func Scoped(scope Scope, dataType string) Key {
	return Key{scope: scope.Normalize(), name: dataType}
}

// Global returns a key shared by every scope.
func Global(name string) Key {
	return Key{global: true, name: name}
}

// IsGlobal reports whether k ignores scope.
func (k Key) IsGlobal() bool { return k.global }

// Scope returns the scope of a scoped key; the zero Scope for global keys.
func (k Key) Scope() Scope { return k.scope }

// partEscaper keeps "_" a pure separator: ids containing it (or the escape
// character) are percent-encoded, plain ids render unchanged.
var partEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// Render produces the physical key: "global_<name>" for global keys and
// "<namespace>_<characterId>_<sessionId>_<dataType>" for scoped ones.
func (k Key) Render(namespace string) string {
	if k.global {
		return globalPrefix + k.name
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return partEscaper.Replace(namespace) + "_" +
		partEscaper.Replace(k.scope.CharacterID) + "_" +
		partEscaper.Replace(k.scope.SessionID) + "_" + k.name
}
