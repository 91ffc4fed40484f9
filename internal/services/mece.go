package services

import (
	"sort"

	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
)

// CodeVector is a code-level node embedding used for MECE checks.
type CodeVector struct {
	NodeID uuid.UUID
	Name   string
	Vector []float32
}

type MeceWarning struct {
	Kind       string    `json:"kind"` // uncovered|overlap
	AnswerID   uuid.UUID `json:"answer_id,omitempty"`
	NodeAID    uuid.UUID `json:"node_a_id,omitempty"`
	NodeBID    uuid.UUID `json:"node_b_id,omitempty"`
	NodeAName  string    `json:"node_a_name,omitempty"`
	NodeBName  string    `json:"node_b_name,omitempty"`
	Similarity float64   `json:"similarity"`
}

type MeceReport struct {
	Score            float64       `json:"score"` // 0..100
	CoverageFraction float64       `json:"coverage_fraction"`
	OverlapFraction  float64       `json:"overlap_fraction"`
	Uncovered        int           `json:"uncovered"`
	OverlapPairs     int           `json:"overlap_pairs"`
	Warnings         []MeceWarning `json:"warnings"`
}

// MeceValidator scores how mutually exclusive and collectively exhaustive a
// built hierarchy is. Advisory only: it never blocks completion.
type MeceValidator interface {
	Validate(answers []AnswerVector, codes []CodeVector, cfg AlgorithmConfig) *MeceReport
}

type meceValidator struct {
	log *logger.Logger
}

func NewMeceValidator(baseLog *logger.Logger) MeceValidator {
	return &meceValidator{log: baseLog.With("service", "MeceValidator")}
}

func (v *meceValidator) Validate(answers []AnswerVector, codes []CodeVector, cfg AlgorithmConfig) *MeceReport {
	coverageThreshold := cfg.CoverageThreshold
	if coverageThreshold <= 0 {
		coverageThreshold = 0.3
	}
	overlapThreshold := cfg.OverlapThreshold
	if overlapThreshold <= 0 {
		overlapThreshold = 0.85
	}

	report := &MeceReport{}

	// Exhaustiveness: every answer should sit near at least one code.
	total := 0
	covered := 0
	for _, a := range answers {
		if len(a.Vector) == 0 {
			continue
		}
		total++
		best := -1.0
		for _, c := range codes {
			if sim := cosineSimilarity(a.Vector, c.Vector); sim > best {
				best = sim
			}
		}
		if best >= coverageThreshold {
			covered++
			continue
		}
		report.Uncovered++
		report.Warnings = append(report.Warnings, MeceWarning{
			Kind:       "uncovered",
			AnswerID:   a.AnswerID,
			Similarity: best,
		})
	}
	if total > 0 {
		report.CoverageFraction = float64(covered) / float64(total)
	} else {
		report.CoverageFraction = 1
	}

	// Exclusivity: no pair of codes should be near-duplicates.
	sorted := append([]CodeVector(nil), codes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeID.String() < sorted[j].NodeID.String() })

	pairs := 0
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairs++
			sim := cosineSimilarity(sorted[i].Vector, sorted[j].Vector)
			if sim <= overlapThreshold {
				continue
			}
			report.OverlapPairs++
			report.Warnings = append(report.Warnings, MeceWarning{
				Kind:       "overlap",
				NodeAID:    sorted[i].NodeID,
				NodeBID:    sorted[j].NodeID,
				NodeAName:  sorted[i].Name,
				NodeBName:  sorted[j].Name,
				Similarity: sim,
			})
		}
	}
	if pairs > 0 {
		report.OverlapFraction = float64(report.OverlapPairs) / float64(pairs)
	}

	report.Score = 100 * (report.CoverageFraction*0.6 + (1-report.OverlapFraction)*0.4)
	if report.Score < 0 {
		report.Score = 0
	}
	if report.Score > 100 {
		report.Score = 100
	}

	v.log.Debug("MECE validation finished",
		"score", report.Score,
		"uncovered", report.Uncovered,
		"overlap_pairs", report.OverlapPairs,
	)
	return report
}
