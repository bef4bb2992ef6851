// Package basic implements the built-in text normaliser. It cleans raw ASR
// output before NLU (whitespace, fillers, stray punctuation) and prepares
// reply text for synthesis (whitespace, terminal punctuation). Deliberately
// rule-based and language-light; heavier rewriting belongs to the LLM
// enhancement stage.
package basic

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/aria/pkg/provider/textproc"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "basic"

var _ textproc.Provider = (*Provider)(nil)

// fillers are hesitation tokens stripped from ASR output per language.
var fillers = map[string][]string{
	"en": {"uh", "um", "uhm", "erm", "hmm"},
	"de": {"äh", "ähm", "hm", "öhm"},
}

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithExtraFillers appends hesitation tokens stripped for the given language.
func WithExtraFillers(language string, words ...string) Option {
	return func(p *Provider) {
		p.fillers[language] = append(p.fillers[language], words...)
	}
}

// Provider is the rule-based normaliser. Read-only after construction.
type Provider struct {
	fillers map[string][]string
}

// New returns the basic text normaliser.
func New(opts ...Option) *Provider {
	p := &Provider{fillers: make(map[string][]string, len(fillers))}
	for lang, words := range fillers {
		p.fillers[lang] = append([]string(nil), words...)
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available implements provider.Provider.
func (p *Provider) Available(context.Context) bool { return true }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	return map[string]any{
		"offline": true,
		"stages":  []string{string(types.StageASROutput), string(types.StageTTSInput)},
	}
}

// Stages implements textproc.Provider.
func (p *Provider) Stages() []types.NormalizerStage {
	return []types.NormalizerStage{types.StageASROutput, types.StageTTSInput}
}

// Normalize implements textproc.Provider. Unknown stages pass text through
// unchanged.
func (p *Provider) Normalize(ctx context.Context, text string, stage types.NormalizerStage, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch stage {
	case types.StageASROutput:
		return p.normalizeASR(text, language), nil
	case types.StageTTSInput:
		return normalizeTTS(text), nil
	default:
		return text, nil
	}
}

// normalizeASR collapses whitespace, strips hesitation fillers, and drops
// punctuation that only confuses keyword matching. Case is preserved; the
// NLU layer lowercases on its own terms.
func (p *Provider) normalizeASR(text, language string) string {
	lang := baseLanguage(language)
	fillerSet := make(map[string]bool)
	for _, w := range p.fillers[lang] {
		fillerSet[w] = true
	}

	var out []string
	for _, tok := range strings.Fields(text) {
		cleaned := strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) && r != '\'' && r != '-'
		})
		if cleaned == "" {
			continue
		}
		if fillerSet[strings.ToLower(cleaned)] {
			continue
		}
		out = append(out, cleaned)
	}
	return strings.Join(out, " ")
}

// normalizeTTS collapses whitespace and guarantees terminal punctuation so
// synthesis engines produce a natural final contour.
func normalizeTTS(text string) string {
	joined := strings.Join(strings.Fields(text), " ")
	if joined == "" {
		return ""
	}
	last, _ := utf8DecodeLast(joined)
	switch last {
	case '.', '!', '?', ':', ';':
		return joined
	}
	return joined + "."
}

func utf8DecodeLast(s string) (rune, int) {
	r := []rune(s)
	return r[len(r)-1], len(r)
}

// baseLanguage reduces a BCP-47 code to its primary subtag ("de-DE" -> "de").
func baseLanguage(language string) string {
	if i := strings.IndexAny(language, "-_"); i > 0 {
		return strings.ToLower(language[:i])
	}
	return strings.ToLower(language)
}
