package dispatch

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/bdobrica/Tegami/internal/tegami/chat"
	"github.com/bdobrica/Tegami/internal/tegami/host"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
	"github.com/bdobrica/Tegami/internal/tegami/narrative"
)

const (
	transcriptEntryLimit = 400
	personaLimit         = 600
	replyMaxTokens       = 400
)

// role is who the model speaks as in a thread.
type role int

const (
	roleMain role = iota
	roleNPC
	roleGroup
)

func roleFor(snap *host.Snapshot, t chat.Thread) role {
	switch {
	case t.Kind == chat.ThreadGroup:
		return roleGroup
	case t.Pinned || t.DisplayName == snap.CharacterName():
		return roleMain
	default:
		return roleNPC
	}
}

// promptInput is everything one prompt is assembled from.
type promptInput struct {
	snap            *host.Snapshot
	record          *chat.Record
	thread          chat.Thread
	now             narrative.Time
	transcriptDepth int
	historyDepth    int
}

func buildPrompt(in promptInput) llm.Prompt {
	snap, t := in.snap, in.thread
	charName, userName := snap.CharacterName(), snap.UserName()

	var sys strings.Builder
	switch roleFor(snap, t) {
	case roleMain:
		fmt.Fprintf(&sys, "你正在扮演%s，用手机聊天软件和%s私聊。\n", charName, userName)
	case roleNPC:
		who := t.DisplayName
		if c, ok := contactFor(in.record, t); ok && (c.Relation != "" || c.Occupation != "") {
			who += "（" + strings.Trim(c.Relation+" "+c.Occupation, " ") + "）"
		}
		fmt.Fprintf(&sys, "你正在扮演%s，是%s身边的人，用手机聊天软件和%s私聊。不要扮演%s本人。\n",
			who, charName, userName, charName)
	case roleGroup:
		fmt.Fprintf(&sys, "你正在模拟群聊「%s」，成员有：%s。%s也在群里。\n",
			t.DisplayName, strings.Join(memberNames(in.record, t), "、"), userName)
		sys.WriteString("每条消息以“名字：内容”开头，由不同成员自然接话。\n")
	}

	if snap.HasCharacter() {
		sys.WriteString("\n【角色设定】\n")
		writeField(&sys, "描述", snap.Character.Description)
		writeField(&sys, "性格", snap.Character.Personality)
		writeField(&sys, "场景", snap.Character.Scenario)
	}
	if snap != nil && snap.UserPersona != "" {
		writeField(&sys, userName+"的设定", snap.UserPersona)
	}

	fmt.Fprintf(&sys, "\n【当前时间】%s\n", in.now.String())

	if lines := transcriptTail(snap, in.transcriptDepth); len(lines) > 0 {
		sys.WriteString("\n【最近的剧情】\n")
		for _, l := range lines {
			sys.WriteString(l)
			sys.WriteByte('\n')
		}
	}

	sys.WriteString("\n【回复格式】像真人发微信一样简短口语化，可以连发几条，每条之间用 ")
	sys.WriteString(Delimiter)
	sys.WriteString(" 分隔。只输出消息内容，不要旁白和动作描写。\n")

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}
	for _, m := range historyTail(in.record.MessagesByThread[t.ID], in.historyDepth) {
		if m.Sender == chat.SenderUser {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
			continue
		}
		content := m.Content
		if t.Kind == chat.ThreadGroup {
			content = m.Sender + "：" + content
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: content})
	}
	return llm.Prompt{Messages: msgs, MaxTokens: replyMaxTokens}
}

func writeField(b *strings.Builder, label, value string) {
	value = truncate(stripMarkup(value), personaLimit)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s：%s\n", label, value)
}

func transcriptTail(snap *host.Snapshot, depth int) []string {
	if snap == nil || depth <= 0 {
		return nil
	}
	entries := snap.Transcript
	if len(entries) > depth {
		entries = entries[len(entries)-depth:]
	}
	var out []string
	for _, e := range entries {
		text := truncate(stripMarkup(e.Text), transcriptEntryLimit)
		if text == "" {
			continue
		}
		speaker := snap.CharacterName()
		if e.IsUser {
			speaker = snap.UserName()
		}
		out = append(out, speaker+"："+text)
	}
	return out
}

func historyTail(msgs []chat.Message, depth int) []chat.Message {
	if depth <= 0 {
		return nil
	}
	if len(msgs) > depth {
		return msgs[len(msgs)-depth:]
	}
	return msgs
}

func contactFor(rec *chat.Record, t chat.Thread) (chat.Contact, bool) {
	for _, c := range rec.Contacts {
		if c.ID == t.ContactID {
			return c, true
		}
	}
	return chat.Contact{}, false
}

func memberNames(rec *chat.Record, t chat.Thread) []string {
	var names []string
	for _, id := range t.MemberContactIDs {
		for _, c := range rec.Contacts {
			if c.ID == id {
				names = append(names, c.DisplayName)
				break
			}
		}
	}
	return names
}

// stripMarkup reduces host-rendered HTML to its visible text with runs of
// whitespace collapsed.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if hidden == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					hidden++
				}
			case "br", "p", "div", "li":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if n := string(name); (n == "script" || n == "style") && hidden > 0 {
				hidden--
			}
		}
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
