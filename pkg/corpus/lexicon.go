package corpus

import (
	"sort"
	"strings"
)

// domainLexicon maps securities-exam phrases to canonical topic tags.
// Multi-word phrases are matched before single words so "regulation t"
// tags as margin rather than as a generic regulation mention.
var domainLexicon = []struct {
	phrase string
	tag    string
}{
	{"regulation t", "margin"},
	{"reg t", "margin"},
	{"margin call", "margin"},
	{"margin requirement", "margin"},
	{"maintenance margin", "margin"},
	{"initial margin", "margin"},
	{"short sale", "short-selling"},
	{"short selling", "short-selling"},
	{"call option", "options"},
	{"put option", "options"},
	{"covered call", "options"},
	{"strike price", "options"},
	{"options contract", "options"},
	{"municipal bond", "municipal-bonds"},
	{"general obligation", "municipal-bonds"},
	{"revenue bond", "municipal-bonds"},
	{"treasury bill", "government-securities"},
	{"treasury note", "government-securities"},
	{"treasury bond", "government-securities"},
	{"t-bill", "government-securities"},
	{"mutual fund", "investment-companies"},
	{"closed-end fund", "investment-companies"},
	{"open-end fund", "investment-companies"},
	{"expense ratio", "investment-companies"},
	{"net asset value", "investment-companies"},
	{"money market", "money-market"},
	{"commercial paper", "money-market"},
	{"primary market", "primary-market"},
	{"initial public offering", "primary-market"},
	{"secondary market", "secondary-market"},
	{"suitability", "suitability"},
	{"know your customer", "suitability"},
	{"churning", "prohibited-practices"},
	{"front running", "prohibited-practices"},
	{"insider trading", "prohibited-practices"},
	{"market manipulation", "prohibited-practices"},
	{"yield to maturity", "yield"},
	{"current yield", "yield"},
	{"dividend", "dividends"},
	{"ex-dividend", "dividends"},
	{"underwriting", "underwriting"},
	{"underwriter", "underwriting"},
	{"syndicate", "underwriting"},
	{"prospectus", "disclosure"},
	{"official statement", "disclosure"},
	{"finra", "finra"},
	{"sec", "sec"},
	{"msrb", "msrb"},
	{"sipc", "investor-protection"},
	{"fdic", "investor-protection"},
	{"ira", "retirement"},
	{"401(k)", "retirement"},
	{"403(b)", "retirement"},
	{"roth", "retirement"},
	{"annuity", "annuities"},
	{"variable annuity", "annuities"},
	{"preferred stock", "equity"},
	{"common stock", "equity"},
	{"rights offering", "equity"},
	{"warrant", "equity"},
	{"convertible bond", "debt"},
	{"debenture", "debt"},
	{"coupon", "debt"},
	{"bond", "debt"},
	{"duration", "debt"},
	{"liquidity", "risk"},
	{"volatility", "risk"},
	{"diversification", "risk"},
	{"systematic risk", "risk"},
	{"credit risk", "risk"},
	{"interest rate risk", "risk"},
	{"margin", "margin"},
	{"option", "options"},
	{"ipo", "primary-market"},
}

// Tagger assigns topic tags to content by lexicon lookup.
type Tagger struct{}

// NewTagger creates a lexicon tagger.
func NewTagger() *Tagger {
	return &Tagger{}
}

// Tag returns the sorted, de-duplicated tags whose lexicon phrases appear
// in the content. Matching is case-insensitive on word boundaries.
func (t *Tagger) Tag(content string) []string {
	lower := strings.ToLower(content)

	seen := make(map[string]struct{})
	for _, entry := range domainLexicon {
		if containsPhrase(lower, entry.phrase) {
			seen[entry.tag] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// MergeTags unions tag slices into one sorted, de-duplicated slice.
func MergeTags(groups ...[]string) []string {
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, tag := range group {
			if tag != "" {
				seen[tag] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// containsPhrase reports a whole-word occurrence of phrase in text.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		abs := idx + i
		end := abs + len(phrase)

		leftOK := abs == 0 || !isWordByte(text[abs-1])
		rightOK := end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		idx = abs + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
