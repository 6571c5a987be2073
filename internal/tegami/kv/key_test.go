package kv_test

import (
	"context"
	"testing"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

func TestKey_Render(t *testing.T) {
	tests := []struct {
		name      string
		key       kv.Key
		namespace string
		want      string
	}{
		{"scoped", kv.Scoped(kv.NewScope("alice", "s1"), kv.DataConversation), "tegami", "tegami_alice_s1_wechat_data"},
		{"blank parts default", kv.Scoped(kv.Scope{}, kv.DataConversation), "tegami", "tegami_default_default_wechat_data"},
		{"blank namespace", kv.Scoped(kv.NewScope("bob", ""), "apps"), "", "tegami_bob_default_apps"},
		{"underscore escaped", kv.Scoped(kv.NewScope("a_b", "50%"), kv.DataConversation), "tegami", "tegami_a%5Fb_50%25_wechat_data"},
		{"global", kv.Global(kv.DataSettings), "tegami", "global_global_settings"},
		{"global ignores namespace", kv.Global("theme"), "other", "global_theme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Render(tt.namespace); got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScope_Normalize(t *testing.T) {
	s := kv.Scope{CharacterID: "  ", SessionID: "chat-1"}.Normalize()
	if s.CharacterID != kv.DefaultPart || s.SessionID != "chat-1" {
		t.Errorf("Normalize = %+v", s)
	}
	if got := kv.NewScope("", "").String(); got != "default/default" {
		t.Errorf("String = %q", got)
	}
}

func TestScopesNeverCollide(t *testing.T) {
	a := kv.Scoped(kv.NewScope("alice", "s1"), kv.DataConversation).Render("")
	b := kv.Scoped(kv.NewScope("alice", "s2"), kv.DataConversation).Render("")
	c := kv.Scoped(kv.NewScope("bob", "s1"), kv.DataConversation).Render("")
	if a == b || a == c || b == c {
		t.Fatalf("scoped keys collide: %q %q %q", a, b, c)
	}

	pairs := [][2]kv.Scope{
		{kv.NewScope("a_b", "c"), kv.NewScope("a", "b_c")},
		{kv.NewScope("a%5Fb", "c"), kv.NewScope("a_b", "c")},
		{kv.NewScope("x", "y_wechat"), kv.NewScope("x_y", "wechat")},
	}
	for _, p := range pairs {
		ka := kv.Scoped(p[0], kv.DataConversation).Render("")
		kb := kv.Scoped(p[1], kv.DataConversation).Render("")
		if ka == kb {
			t.Errorf("%v and %v both render to %q", p[0], p[1], ka)
		}
	}
}

func TestStore_UnderscoreScopesStayIsolated(t *testing.T) {
	ctx := context.Background()
	s := kv.NewStore(kv.NewMemory("mem"), "")
	a := kv.Scoped(kv.NewScope("a_b", "c"), kv.DataConversation)
	b := kv.Scoped(kv.NewScope("a", "b_c"), kv.DataConversation)

	if err := s.Set(ctx, a, "record-a"); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := s.Get(ctx, b); err != nil || ok {
		t.Fatalf("Get(b) = %q, %v, %v; want a miss", v, ok, err)
	}
}
