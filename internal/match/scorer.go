package match

import "strings"

// Config holds the tunable scoring weights.
type Config struct {
	KeywordWeight int      `yaml:"keyword_weight" mapstructure:"keyword_weight"` // points per matched keyword character
	BrandBonus    int      `yaml:"brand_bonus" mapstructure:"brand_bonus"`
	MinKeywordLen int      `yaml:"min_keyword_len" mapstructure:"min_keyword_len"`
	MaxCandidates int      `yaml:"max_candidates" mapstructure:"max_candidates"`
	BrandTokens   []string `yaml:"brand_tokens" mapstructure:"brand_tokens"`
}

// DefaultConfig returns the weights tuned for the Bách Hóa Xanh dataset.
func DefaultConfig() Config {
	return Config{
		KeywordWeight: 1,
		BrandBonus:    20,
		MinKeywordLen: 3,
		MaxCandidates: 5,
		BrandTokens:   []string{"bach hoa xanh", "bhx"},
	}
}

// Scorer ranks candidate result texts against expected keywords.
type Scorer struct {
	cfg    Config
	brands []string
}

// NewScorer builds a Scorer, filling unset weights from DefaultConfig.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = def.KeywordWeight
	}
	if cfg.BrandBonus < 0 {
		cfg.BrandBonus = 0
	}
	if cfg.MinKeywordLen <= 0 {
		cfg.MinKeywordLen = def.MinKeywordLen
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.BrandTokens == nil {
		cfg.BrandTokens = def.BrandTokens
	}

	s := &Scorer{cfg: cfg}
	for _, b := range cfg.BrandTokens {
		if nb := NormalizeText(b); nb != "" {
			s.brands = append(s.brands, nb)
		}
	}
	return s
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// MaxCandidates is the number of leading results Pick examines.
func (s *Scorer) MaxCandidates() int { return s.cfg.MaxCandidates }

// Keywords normalizes the concatenated row attributes and keeps the tokens
// of at least MinKeywordLen characters, in order.
func (s *Scorer) Keywords(shopName, district, specificAddress string) []string {
	joined := NormalizeText(shopName + " " + district + " " + specificAddress)
	var out []string
	for _, tok := range strings.Fields(joined) {
		if len(tok) >= s.cfg.MinKeywordLen {
			out = append(out, tok)
		}
	}
	return out
}

// Score sums the weighted length of every keyword found in the normalized
// candidate text, plus the brand bonus when a brand token is present.
func (s *Scorer) Score(candidate string, keywords []string) int {
	text := NormalizeText(candidate)
	if text == "" {
		return 0
	}
	score := 0
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			score += len(k) * s.cfg.KeywordWeight
		}
	}
	for _, b := range s.brands {
		if strings.Contains(text, b) {
			score += s.cfg.BrandBonus
			break
		}
	}
	return score
}

// Pick returns the index of the best of the first MaxCandidates candidates
// and its score. Only a strictly higher score replaces the current best, so
// ties go to the earlier candidate. When nothing scores above zero the first
// candidate is chosen. Pick returns -1 for an empty list.
func (s *Scorer) Pick(candidates []string, keywords []string) (int, int) {
	if len(candidates) == 0 {
		return -1, 0
	}
	limit := min(len(candidates), s.cfg.MaxCandidates)
	best, bestScore := 0, 0
	for i := 0; i < limit; i++ {
		if sc := s.Score(candidates[i], keywords); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return best, bestScore
}

var defaultScorer = NewScorer(DefaultConfig())

// BuildExpectedKeywords uses the default weights.
func BuildExpectedKeywords(shopName, district, specificAddress string) []string {
	return defaultScorer.Keywords(shopName, district, specificAddress)
}

// ScoreCandidate uses the default weights.
func ScoreCandidate(candidate string, keywords []string) int {
	return defaultScorer.Score(candidate, keywords)
}

// PickBest uses the default weights.
func PickBest(candidates []string, keywords []string) int {
	idx, _ := defaultScorer.Pick(candidates, keywords)
	return idx
}
