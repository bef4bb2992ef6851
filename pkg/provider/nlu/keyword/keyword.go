// Package keyword implements an offline NLU provider that matches utterances
// against configured intent patterns using Double Metaphone phonetic encoding
// combined with Jaro-Winkler string similarity.
//
// The algorithm proceeds in two stages per keyword:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the utterance and each token of the keyword. Any code
//     overlap makes the keyword a phonetic candidate, which lowers the
//     similarity bar — ASR output regularly mangles spelling while keeping
//     the sound ("play timer" heard as "blay tymer").
//
//  2. Jaro-Winkler ranking: the keyword's score is the best Jaro-Winkler
//     similarity across full-string, space-stripped, and pairwise-token
//     comparisons. Phonetic candidates must clear the phonetic threshold
//     (default 0.70); everything else must clear the stricter fuzzy
//     threshold (default 0.85).
//
// An intent's confidence is the mean score of its matched keywords, scaled by
// the fraction of keywords that matched, with a small bonus when the intent's
// domain is already active in the conversation. Slots are filled by running
// the same matcher over the utterance n-grams against each slot's vocabulary.
package keyword

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/aria/pkg/provider/nlu"
	"github.com/MrWong99/aria/pkg/types"
)

// ProviderName is the stable identifier used in configuration.
const ProviderName = "keyword"

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// activeDomainBonus is added to an intent's confidence when its domain
	// already has a running conversation thread. Follow-up commands tend to
	// stay in-domain.
	activeDomainBonus = 0.05

	// maxSlotNGram bounds the n-gram window used for slot extraction.
	maxSlotNGram = 3
)

var _ nlu.Provider = (*Provider)(nil)

// IntentPattern declares one recognisable intent.
type IntentPattern struct {
	// Name is the dotted intent name (domain.action), e.g. "timer.set".
	Name string `yaml:"name"`

	// Keywords are the words or phrases that signal this intent. At least
	// one must match for the intent to be considered.
	Keywords []string `yaml:"keywords"`

	// Slots maps slot names to their closed vocabulary, e.g.
	// "unit" -> ["seconds", "minutes", "hours"].
	Slots map[string][]string `yaml:"slots"`

	// Languages restricts the pattern to specific BCP-47 codes. Empty
	// means all languages.
	Languages []string `yaml:"languages"`
}

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched keyword to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(p *Provider) { p.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for
// keywords without phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(p *Provider) { p.fuzzyThreshold = threshold }
}

// Provider is a keyword/phonetic NLU matcher. It is read-only after
// construction and safe for concurrent use.
type Provider struct {
	patterns          []IntentPattern
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a keyword NLU provider over the given intent patterns.
func New(patterns []IntentPattern, opts ...Option) *Provider {
	p := &Provider{
		patterns:          patterns,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return ProviderName }

// Available reports whether any patterns are configured.
func (p *Provider) Available(context.Context) bool { return len(p.patterns) > 0 }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() map[string]any {
	intents := make([]string, 0, len(p.patterns))
	for _, pat := range p.patterns {
		intents = append(intents, pat.Name)
	}
	return map[string]any{
		"intents": intents,
		"offline": true,
	}
}

// Parse implements nlu.Provider. When nothing matches it returns a
// zero-confidence intent, not an error; routing the miss is the caller's
// policy decision.
func (p *Provider) Parse(ctx context.Context, text string, language string, conv types.ConversationSnapshot) (types.Intent, error) {
	if err := ctx.Err(); err != nil {
		return types.Intent{}, err
	}

	miss := types.Intent{RawText: text, Language: language}
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(tokens) == 0 {
		return miss, nil
	}
	inputCodes := codesForTokens(tokens)

	active := make(map[string]bool, len(conv.ActiveDomains))
	for _, d := range conv.ActiveDomains {
		active[d] = true
	}

	var best types.Intent
	var bestPattern IntentPattern
	for _, pat := range p.patterns {
		if !languageMatches(pat.Languages, language) {
			continue
		}
		score := p.scorePattern(pat, tokens, inputCodes)
		if score <= 0 {
			continue
		}
		if domain, _, ok := strings.Cut(pat.Name, "."); ok && active[domain] {
			score += activeDomainBonus
		}
		if score > 1 {
			score = 1
		}
		if score > best.Confidence {
			best = types.Intent{
				Name:       pat.Name,
				Confidence: score,
				RawText:    text,
				Language:   language,
			}
			bestPattern = pat
		}
	}

	if best.Name == "" {
		return miss, nil
	}
	best.Slots = p.extractSlots(bestPattern, tokens)
	return best, nil
}

// scorePattern returns the pattern's match score in [0,1]: the mean score of
// matched keywords scaled by the matched fraction. Zero means no keyword
// cleared its threshold.
func (p *Provider) scorePattern(pat IntentPattern, tokens []string, inputCodes map[string]struct{}) float64 {
	if len(pat.Keywords) == 0 {
		return 0
	}
	var sum float64
	var matched int
	for _, kw := range pat.Keywords {
		if score, ok := p.matchPhrase(kw, tokens, inputCodes); ok {
			sum += score
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	mean := sum / float64(matched)
	return mean * float64(matched) / float64(len(pat.Keywords))
}

// matchPhrase tests one keyword (word or phrase) against the utterance.
func (p *Provider) matchPhrase(phrase string, tokens []string, inputCodes map[string]struct{}) (float64, bool) {
	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	if phraseLower == "" {
		return 0, false
	}
	phraseTokens := strings.Fields(phraseLower)

	phonetic := codesOverlap(inputCodes, codesForTokens(phraseTokens))
	score := bestJWScore(tokens, phraseTokens, strings.Join(tokens, " "), phraseLower)

	threshold := p.fuzzyThreshold
	if phonetic {
		threshold = p.phoneticThreshold
	}
	if score >= threshold {
		return score, true
	}
	return 0, false
}

// extractSlots fills the pattern's slots from the utterance. For each slot,
// every n-gram of the utterance (up to maxSlotNGram tokens) is matched
// against the slot vocabulary; the best-scoring vocabulary entry wins. The
// canonical vocabulary spelling is stored, not the raw n-gram.
func (p *Provider) extractSlots(pat IntentPattern, tokens []string) map[string]string {
	if len(pat.Slots) == 0 {
		return nil
	}
	slots := make(map[string]string)
	for slot, vocab := range pat.Slots {
		var bestValue string
		var bestScore float64
		for n := 1; n <= maxSlotNGram && n <= len(tokens); n++ {
			for i := 0; i+n <= len(tokens); i++ {
				gram := tokens[i : i+n]
				gramCodes := codesForTokens(gram)
				for _, value := range vocab {
					score, ok := p.matchPhrase(value, gram, gramCodes)
					if ok && score > bestScore {
						bestScore = score
						bestValue = value
					}
				}
			}
		}
		if bestValue != "" {
			slots[slot] = bestValue
		}
	}
	// Counts pass through as a literal "number" slot when declared: digits
	// verbatim, spelled-out numbers as spoken. ASR output rarely contains
	// digits, so "five" must survive to the handler.
	if _, wantsNumber := pat.Slots["number"]; wantsNumber && slots["number"] == "" {
		for _, t := range tokens {
			if isDigits(t) || isSpokenNumber(t) {
				slots["number"] = t
				break
			}
		}
	}
	if len(slots) == 0 {
		return nil
	}
	return slots
}

// spokenNumbers lists the spelled-out counts accepted for the "number" slot.
// Handlers convert them; the matcher only needs to recognise one.
var spokenNumbers = map[string]struct{}{
	"one": {}, "two": {}, "three": {}, "four": {}, "five": {},
	"six": {}, "seven": {}, "eight": {}, "nine": {}, "ten": {},
	"fifteen": {}, "twenty": {}, "thirty": {}, "sixty": {}, "ninety": {},
}

func isSpokenNumber(s string) bool {
	_, ok := spokenNumbers[s]
	return ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func languageMatches(languages []string, language string) bool {
	if len(languages) == 0 || language == "" {
		return true
	}
	for _, l := range languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the keyword using three strategies: full strings, space-stripped
// strings, and the best pairwise token score.
func bestJWScore(inputTokens, phraseTokens []string, inputFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(inputFull, phraseFull, false)

	if len(inputTokens) > 1 || len(phraseTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(it, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
