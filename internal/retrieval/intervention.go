package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"github.com/typelark/fontdex/models"
)

// Penalty constants calibrated in the offline rerank trials.
const (
	DefaultVintagePenalty = 0.20
	DefaultStrictPenalty  = 0.18
	RankScalingFactor     = 0.15
)

// rankScalingWindow bounds the baseline ranks eligible for penalty scaling.
const rankScalingWindow = 10

// Motif is a deterministic classification of a query's linguistic intent,
// used to decide which re-ranking penalty applies. At most one motif is
// assigned per query.
type Motif string

const (
	MotifNone               Motif = ""
	MotifVintageEra         Motif = "vintage_era"
	MotifOverStrictSemantic Motif = "over_strict_semantic"
)

// Penalty reasons recorded on re-ranked candidates.
const (
	ReasonNone              = "none"
	ReasonVintageTermAbsent = "vintage_term_absent"
	ReasonStrictTokenMiss   = "strict_query_token_miss"
)

var vintageTerms = []string{"vintage", "retro", "classic", "old-school", "art deco", "70s", "80s"}

var strictTerms = []string{"exact", "literally", "strictly", "must", "only", "precise"}

// Strict cue patterns. Deterministic; no model calls. Inputs are lowercased
// before matching.
var (
	strictUseCasePattern    = regexp.MustCompile(`\bfor\s+(?:a|an|the\s+)?(?:[a-z0-9-]+\s+){0,4}(?:firm|brand|company|startup)\b`)
	strictConstraintPattern = regexp.MustCompile(`\b(?:tight|specific|particular|certain)\b`)
	strictDomainPattern     = regexp.MustCompile(`\b(?:industrial|professional|authoritative|stern)\b`)
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)?`)

var stopwords = buildStopwords()

func buildStopwords() map[string]struct{} {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an", "and", "any", "are", "as", "at",
		"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
		"can", "could",
		"did", "do", "does", "doing", "down", "during",
		"each",
		"few", "for", "from", "further",
		"had", "has", "have", "having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
		"i", "if", "in", "into", "is", "it", "its", "itself",
		"just",
		"me", "more", "most", "my", "myself",
		"no", "nor", "not", "now",
		"of", "off", "on", "once", "only", "or", "other", "our", "ours", "ourselves", "out", "over", "own",
		"same", "she", "should", "so", "some", "such",
		"than", "that", "the", "their", "theirs", "them", "themselves", "then", "there", "these", "they", "this",
		"those", "through", "to", "too",
		"under", "until", "up",
		"very",
		"was", "we", "were", "what", "when", "where", "which", "while", "who", "whom", "why", "will", "with", "would",
		"you", "your", "yours", "yourself", "yourselves",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Candidate is a retrieval hit prior to intervention, ordered by the vector
// search's baseline ranking.
type Candidate struct {
	Font       models.Font
	Confidence float64
}

// Result is a candidate annotated with intervention metadata. Request-scoped;
// never persisted.
type Result struct {
	Candidate
	BaselineRank       int     `json:"baselineRank"`
	OriginalConfidence float64 `json:"originalConfidence"`
	AdjustedConfidence float64 `json:"adjustedConfidence"`
	PenaltyApplied     float64 `json:"penaltyApplied"`
	PenaltyReason      string  `json:"penaltyReason"`
	Motif              Motif   `json:"motif,omitempty"`
}

// Options override the default penalty amounts. Zero values fall back to the
// calibrated defaults.
type Options struct {
	VintagePenalty float64
	StrictPenalty  float64
}

// AssignMotif classifies queryText deterministically. Precedence: vintage
// vocabulary first, then strictness terms, then the strict cue patterns in
// declaration order. Returns MotifNone when nothing matches.
func AssignMotif(queryText string) Motif {
	q := strings.ToLower(queryText)

	if containsAnyTerm(q, vintageTerms) {
		return MotifVintageEra
	}
	if containsAnyTerm(q, strictTerms) {
		return MotifOverStrictSemantic
	}
	if strictUseCasePattern.MatchString(q) {
		return MotifOverStrictSemantic
	}
	if strictConstraintPattern.MatchString(q) {
		return MotifOverStrictSemantic
	}
	if strictDomainPattern.MatchString(q) {
		return MotifOverStrictSemantic
	}
	return MotifNone
}

// ScaledPenalty computes rank-boundary-aware penalty scaling:
//
//	scaled = base * (1 + (10 - baselineRank) * RankScalingFactor)
//
// Higher-ranked candidates receive a larger multiplier because demoting them
// changes top-10 composition more than demoting a borderline candidate. Ranks
// outside [1,10] are returned unscaled.
func ScaledPenalty(basePenalty float64, baselineRank int) float64 {
	if baselineRank < 1 || baselineRank > rankScalingWindow {
		return basePenalty
	}
	return basePenalty * (1 + float64(rankScalingWindow-baselineRank)*RankScalingFactor)
}

// Apply re-weights and re-orders candidates according to the motif assigned to
// queryText. Non-mutating: the input slice and its baseline order are
// preserved. No candidate is ever dropped.
func Apply(candidates []Candidate, queryText string, opts Options) []Result {
	vintagePenalty := opts.VintagePenalty
	if vintagePenalty == 0 {
		vintagePenalty = DefaultVintagePenalty
	}
	strictPenalty := opts.StrictPenalty
	if strictPenalty == 0 {
		strictPenalty = DefaultStrictPenalty
	}

	motif := AssignMotif(queryText)
	queryTokens := tokenSet(nonStopwordTokens(queryText))

	adjusted := make([]Result, 0, len(candidates))
	for i, cand := range candidates {
		baselineRank := i + 1
		fontText := cand.Font.ContextText()

		basePenalty := 0.0
		reason := ReasonNone

		switch motif {
		case MotifVintageEra:
			if !containsAnyTerm(strings.ToLower(fontText), vintageTerms) {
				basePenalty = vintagePenalty
				reason = ReasonVintageTermAbsent
			}
		case MotifOverStrictSemantic:
			candidateTokens := tokenSet(tokenize(fontText))
			if len(queryTokens) > 0 && len(candidateTokens) > 0 && !overlaps(queryTokens, candidateTokens) {
				basePenalty = strictPenalty
				reason = ReasonStrictTokenMiss
			}
		}

		penalty := basePenalty
		if basePenalty > 0 && baselineRank <= rankScalingWindow {
			penalty = ScaledPenalty(basePenalty, baselineRank)
		}

		adjustedScore := cand.Confidence - penalty
		if adjustedScore < 0 {
			adjustedScore = 0
		}

		adjusted = append(adjusted, Result{
			Candidate:          cand,
			BaselineRank:       baselineRank,
			OriginalConfidence: cand.Confidence,
			AdjustedConfidence: adjustedScore,
			PenaltyApplied:     penalty,
			PenaltyReason:      reason,
			Motif:              motif,
		})
	}

	// Deterministic total order: adjusted desc, original desc, name asc.
	sort.Slice(adjusted, func(i, j int) bool {
		a, b := adjusted[i], adjusted[j]
		if a.AdjustedConfidence != b.AdjustedConfidence {
			return a.AdjustedConfidence > b.AdjustedConfidence
		}
		if a.OriginalConfidence != b.OriginalConfidence {
			return a.OriginalConfidence > b.OriginalConfidence
		}
		return a.Font.Name < b.Font.Name
	})

	return adjusted
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func nonStopwordTokens(text string) []string {
	tokens := tokenize(text)
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := stopwords[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func containsAnyTerm(lowered string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

func overlaps(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}
