package memory

// ValidationReport summarizes what the validator did to a retrieval set.
type ValidationReport struct {
	Input        int      `json:"input"`
	Kept         int      `json:"kept"`
	Dropped      int      `json:"dropped"`
	MeanScore    float64  `json:"mean_score"`
	MinScore     float64  `json:"min_score"`
	RedundantIDs []string `json:"redundant_ids,omitempty"`
}

// Validator removes near-duplicate entries from a scored retrieval set
// before assembly. Scoring itself already enforced the relevance floor; the
// validator's job is only redundancy.
type Validator struct {
	redundancyThreshold float64
}

func NewValidator(redundancyThreshold float64) *Validator {
	if redundancyThreshold <= 0 || redundancyThreshold > 1 {
		redundancyThreshold = 0.85
	}
	return &Validator{redundancyThreshold: redundancyThreshold}
}

// Validate collapses pairs whose content overlap meets the redundancy
// threshold, keeping the higher-scoring record of each pair. Input is
// expected score-descending; output preserves that order.
func (v *Validator) Validate(records []ScoredRecord) ([]ScoredRecord, ValidationReport) {
	report := ValidationReport{Input: len(records)}
	if len(records) == 0 {
		return nil, report
	}

	kept := make([]ScoredRecord, 0, len(records))
	for _, cand := range records {
		redundant := false
		for _, k := range kept {
			if tokenOverlap(cand.Content, k.Content) >= v.redundancyThreshold {
				redundant = true
				break
			}
		}
		if redundant {
			report.RedundantIDs = append(report.RedundantIDs, cand.ID)
			continue
		}
		kept = append(kept, cand)
	}

	report.Kept = len(kept)
	report.Dropped = report.Input - report.Kept
	if len(kept) > 0 {
		sum := 0.0
		min := kept[0].Score
		for _, k := range kept {
			sum += k.Score
			if k.Score < min {
				min = k.Score
			}
		}
		report.MeanScore = sum / float64(len(kept))
		report.MinScore = min
	}
	return kept, report
}
