package retrieval

import "strings"

// Strategy selects the post-retrieval behaviour at runtime. The default is
// the untouched baseline ranking so that intervention stays opt-in.
type Strategy string

const (
	StrategyBaseline     Strategy = "baseline"
	StrategyIntervention Strategy = "intervention"
)

// ParseStrategy maps a configured value onto a known strategy. Unknown or
// empty values resolve to the baseline.
func ParseStrategy(v string) Strategy {
	if strings.EqualFold(strings.TrimSpace(v), string(StrategyIntervention)) {
		return StrategyIntervention
	}
	return StrategyBaseline
}

// Active reports whether motif-aware re-ranking should run.
func (s Strategy) Active() bool { return s == StrategyIntervention }
