package dispatch

import (
	"slices"
	"testing"
)

func TestSplitReply(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"在呢|||你好", []string{"在呢", "你好"}},
		{"  只有一句  ", []string{"只有一句"}},
		{"a||| |||b|||", []string{"a", "b"}},
		{"", nil},
		{"|||", nil},
		{"a||b", []string{"a||b"}},
	}
	for _, tt := range tests {
		if got := SplitReply(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("SplitReply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitSpeaker(t *testing.T) {
	members := []string{"李明", "王小雨"}
	tests := []struct {
		in          string
		wantSpeaker string
		wantText    string
		wantOK      bool
	}{
		{"李明：明天考试", "李明", "明天考试", true},
		{"王小雨: 收到", "王小雨", "收到", true},
		{"路人：你好", "", "路人：你好", false},
		{"没有前缀", "", "没有前缀", false},
		{"李明：", "", "李明：", false},
	}
	for _, tt := range tests {
		speaker, text, ok := splitSpeaker(tt.in, members)
		if speaker != tt.wantSpeaker || text != tt.wantText || ok != tt.wantOK {
			t.Errorf("splitSpeaker(%q) = (%q, %q, %v)", tt.in, speaker, text, ok)
		}
	}
}
