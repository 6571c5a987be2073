package chat

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Genre is the broad setting a character card is classified into.
type Genre string

const (
	School     Genre = "school"
	Work       Genre = "work"
	Historical Genre = "historical"
	Fantasy    Genre = "fantasy"
	Modern     Genre = "modern"
)

//go:embed genres.yaml
var genresYAML []byte

type weighted struct {
	Text   string `yaml:"text"`
	Weight int    `yaml:"weight"`
}

type rosterEntry struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Avatar string `yaml:"avatar"`
	Index  string `yaml:"index"`
}

type groupEntry struct {
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`
}

type genreSpec struct {
	Keywords   []string      `yaml:"keywords"`
	Occupation string        `yaml:"occupation"`
	MainAvatar string        `yaml:"mainAvatar"`
	Roster     []rosterEntry `yaml:"roster"`
	Groups     []groupEntry  `yaml:"groups"`
	Openers    struct {
		Main  []weighted `yaml:"main"`
		Group []weighted `yaml:"group"`
	} `yaml:"openers"`
	Moments []weighted `yaml:"moments"`
}

type kinshipSpec struct {
	Relation string     `yaml:"relation"`
	Keywords []string   `yaml:"keywords"`
	Avatar   string     `yaml:"avatar"`
	Index    string     `yaml:"index"`
	Close    bool       `yaml:"close"`
	Openers  []weighted `yaml:"openers"`
}

type catalogue struct {
	Priority []Genre             `yaml:"priority"`
	Fallback Genre               `yaml:"fallback"`
	Kinship  []kinshipSpec       `yaml:"kinship"`
	Genres   map[Genre]genreSpec `yaml:"genres"`
}

// defaultCatalogue is parsed once from the embedded genres.yaml.
var defaultCatalogue = mustParseCatalogue(genresYAML)

func mustParseCatalogue(data []byte) *catalogue {
	c, err := parseCatalogue(data)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCatalogue(data []byte) (*catalogue, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("chat: parse genre catalogue: %w", err)
	}
	if _, ok := c.Genres[c.Fallback]; !ok {
		return nil, fmt.Errorf("chat: fallback genre %q not defined", c.Fallback)
	}
	for _, g := range c.Priority {
		spec, ok := c.Genres[g]
		if !ok {
			return nil, fmt.Errorf("chat: priority genre %q not defined", g)
		}
		if len(spec.Keywords) == 0 {
			return nil, fmt.Errorf("chat: genre %q has no keywords", g)
		}
	}
	for g, spec := range c.Genres {
		if n := len(spec.Roster); n < 3 || n > 5 {
			return nil, fmt.Errorf("chat: genre %q roster has %d entries, want 3-5", g, n)
		}
		if len(spec.Groups) > 2 {
			return nil, fmt.Errorf("chat: genre %q has %d groups, want at most 2", g, len(spec.Groups))
		}
		if len(spec.Openers.Main) == 0 || len(spec.Moments) == 0 {
			return nil, fmt.Errorf("chat: genre %q needs main openers and moments", g)
		}
	}
	return &c, nil
}

// classify scores each priority genre by how many of its keywords occur in
// text; the first genre in priority order with a non-zero score wins.
func (c *catalogue) classify(text string) Genre {
	for _, g := range c.Priority {
		if keywordScore(text, c.Genres[g].Keywords) > 0 {
			return g
		}
	}
	return c.Fallback
}

func keywordScore(text string, keywords []string) int {
	score := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			score++
		}
	}
	return score
}
