package swarm

// QualityScores are the per-dimension ratings of one output, each in [0, 1]
type QualityScores struct {
	Coherence    float64 `json:"coherence"`
	Relevance    float64 `json:"relevance"`
	Tone         float64 `json:"tone"`
	Completeness float64 `json:"completeness"`
}

// Rubric weighs quality dimensions into a single score
type Rubric struct {
	Coherence    float64 `json:"coherence" mapstructure:"coherence"`
	Relevance    float64 `json:"relevance" mapstructure:"relevance"`
	Tone         float64 `json:"tone" mapstructure:"tone"`
	Completeness float64 `json:"completeness" mapstructure:"completeness"`
}

// DefaultRubric weighs coherence 0.3, relevance 0.3, tone 0.2, completeness 0.2
func DefaultRubric() Rubric {
	return Rubric{Coherence: 0.3, Relevance: 0.3, Tone: 0.2, Completeness: 0.2}
}

// Score returns the weighted quality of q
func (r Rubric) Score(q QualityScores) float64 {
	return r.Coherence*clamp(q.Coherence) +
		r.Relevance*clamp(q.Relevance) +
		r.Tone*clamp(q.Tone) +
		r.Completeness*clamp(q.Completeness)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
