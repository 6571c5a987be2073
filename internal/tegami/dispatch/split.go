package dispatch

import (
	"strings"
	"unicode/utf8"
)

// Delimiter separates chat bubbles in a generated reply.
const Delimiter = "|||"

// SplitReply cuts a reply into trimmed, non-empty chunks. A reply without
// the delimiter is one chunk; a blank reply is none.
func SplitReply(reply string) []string {
	var chunks []string
	for _, part := range strings.Split(reply, Delimiter) {
		if part = strings.TrimSpace(part); part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}

// splitSpeaker separates a "名字：内容" group line into speaker and text when
// the prefix names one of members.
func splitSpeaker(chunk string, members []string) (speaker, text string, ok bool) {
	i := strings.IndexAny(chunk, ":：")
	if i <= 0 {
		return "", chunk, false
	}
	name := strings.TrimSpace(chunk[:i])
	for _, m := range members {
		if m == name {
			_, size := utf8.DecodeRuneInString(chunk[i:])
			rest := strings.TrimSpace(chunk[i+size:])
			if rest == "" {
				return "", chunk, false
			}
			return name, rest, true
		}
	}
	return "", chunk, false
}
