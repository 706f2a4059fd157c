package heuristic

import "strings"

// DefaultThreshold is the minimum share of plan steps that must mention an
// intent keyword.
const DefaultThreshold = 0.3

// Intent groups query triggers with the keywords a relevant plan step mentions.
type Intent struct {
	Name string `yaml:"name"`
	// Triggers activate the intent when found in the query.
	Triggers []string `yaml:"triggers"`
	// Keywords are looked for in each plan step.
	Keywords []string `yaml:"keywords"`
	// CaseInsensitive matches triggers against the lowercased query.
	CaseInsensitive bool `yaml:"case_insensitive"`
}

// DefaultIntents returns the arithmetic and lookup intents.
func DefaultIntents() []Intent {
	return []Intent{
		{
			Name:     "arithmetic",
			Triggers: []string{"+", "-", "*", "/", "더하기", "빼기", "곱하기", "나누기", "계산"},
			Keywords: []string{"계산", "결과", "더하기", "빼기", "곱하기", "나누기", "합", "차", "곱", "몫"},
		},
		{
			Name:            "lookup",
			Triggers:        []string{"찾아", "검색", "알려줘", "뭐야", "무엇"},
			Keywords:        []string{"검색", "찾기", "정보", "분석"},
			CaseInsensitive: true,
		},
	}
}

// Relevance scores generated plans against the query's intent keywords.
type Relevance struct {
	Threshold float64
	Intents   []Intent
}

// NewRelevance creates a checker. Zero threshold and nil intents use defaults.
func NewRelevance(threshold float64, intents []Intent) *Relevance {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if intents == nil {
		intents = DefaultIntents()
	}
	return &Relevance{Threshold: threshold, Intents: intents}
}

// Keywords returns the keyword set activated by query.
func (r *Relevance) Keywords(query string) []string {
	lower := strings.ToLower(query)
	seen := map[string]struct{}{}
	var keywords []string
	for _, intent := range r.Intents {
		haystack := query
		if intent.CaseInsensitive {
			haystack = lower
		}
		if !containsAny(haystack, intent.Triggers) {
			continue
		}
		for _, k := range intent.Keywords {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// Score returns the share of steps mentioning at least one keyword.
func (r *Relevance) Score(query string, steps []string) float64 {
	if len(steps) == 0 {
		return 0
	}
	keywords := r.Keywords(query)
	relevant := 0
	for _, step := range steps {
		if containsAny(strings.ToLower(step), keywords) {
			relevant++
		}
	}
	return float64(relevant) / float64(len(steps))
}

// IsRelevant reports whether steps meet the threshold. An empty plan is never
// relevant.
func (r *Relevance) IsRelevant(query string, steps []string) bool {
	if len(steps) == 0 {
		return false
	}
	return r.Score(query, steps) >= r.Threshold
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
