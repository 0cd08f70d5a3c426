// Package titleparser implements the Title Parser (C8): an AI-backed
// extraction of {clean_title, full_title, group, season, episode, category}
// from a raw torrent title, specialised by a language-priority list.
package titleparser

import (
	"context"
	"fmt"
	"strings"

	"github.com/1morr/anidown/internal/aiclient"
	"github.com/1morr/anidown/internal/domain"
)

// Parser wraps one aiclient.Client fixed to the title_parse purpose.
type Parser struct {
	client *aiclient.Client
	// LanguagePriority instructs the upstream which language to prefer when
	// choosing clean_title, e.g. []string{"zh", "en", "ja", "romaji"}.
	LanguagePriority []string
}

func New(client *aiclient.Client, languagePriority []string) *Parser {
	if len(languagePriority) == 0 {
		languagePriority = []string{"zh", "en", "ja", "romaji"}
	}
	return &Parser{client: client, LanguagePriority: languagePriority}
}

// Parse extracts structured title information from titleText. A nil result
// with a nil error never happens; callers branch on err via apperr.KindOf
// and fall back to regex-only heuristics on failure, per spec.
func (p *Parser) Parse(ctx context.Context, titleText string) (*domain.TitleParseResult, error) {
	prompt := buildPrompt(p.LanguagePriority)
	result, err := p.client.Call(ctx, prompt, titleText, aiclient.TitleParseSchema{}, nil)
	if err != nil {
		return nil, err
	}
	parsed, ok := result.(domain.TitleParseResult)
	if !ok {
		return nil, fmt.Errorf("titleparser: unexpected result type %T", result)
	}
	parsed.OriginalTitle = titleText
	return &parsed, nil
}

// buildPrompt specialises the system prompt with the configured language
// priority. Prompt text is a versioned input per spec §9 — changing it is
// API-breaking for the upstream contract.
func buildPrompt(languagePriority []string) string {
	var b strings.Builder
	b.WriteString("You are a precise anime release title parser. Given a single torrent ")
	b.WriteString("release title, extract: clean_title, full_title, subtitle_group, season ")
	b.WriteString("(integer, default 1 if absent), episode (integer or null for non-episodic ")
	b.WriteString("releases/movies), and category (\"tv\" or \"movie\"). ")
	b.WriteString("Choose clean_title by this language preference, most preferred first: ")
	b.WriteString(strings.Join(languagePriority, " > "))
	b.WriteString(". Respond only with the requested JSON object.")
	return b.String()
}
