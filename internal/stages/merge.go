package stages

import (
	"strings"

	"github.com/marcobitx/foxdoc/internal/report"
)

// mergeExtraction folds part b of a split document into a. Scalars keep the
// first value seen; lists are concatenated without duplicates.
func mergeExtraction(a, b *report.ExtractionResult) *report.ExtractionResult {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.ProjectTitle = firstString(a.ProjectTitle, b.ProjectTitle)
	a.ProcurementType = firstString(a.ProcurementType, b.ProcurementType)
	switch {
	case a.ProjectSummary == "":
		a.ProjectSummary = b.ProjectSummary
	case b.ProjectSummary != "" && b.ProjectSummary != a.ProjectSummary:
		a.ProjectSummary += "\n\n" + b.ProjectSummary
	}
	if a.ProcuringOrganization == nil {
		a.ProcuringOrganization = b.ProcuringOrganization
	}
	if a.EstimatedValue == nil || a.EstimatedValue.Amount == nil {
		if b.EstimatedValue != nil {
			a.EstimatedValue = b.EstimatedValue
		}
	}
	a.Deadlines = mergeDeadlines(a.Deadlines, b.Deadlines)
	a.KeyRequirements = appendUnique(a.KeyRequirements, b.KeyRequirements)
	a.QualificationRequirements = appendUnique(a.QualificationRequirements, b.QualificationRequirements)
	a.SpecialConditions = appendUnique(a.SpecialConditions, b.SpecialConditions)
	a.ConfidenceNotes = appendUnique(a.ConfidenceNotes, b.ConfidenceNotes)

	seen := map[string]bool{}
	for _, c := range a.EvaluationCriteria {
		seen[strings.ToLower(c.Criterion)] = true
	}
	for _, c := range b.EvaluationCriteria {
		if !seen[strings.ToLower(c.Criterion)] {
			seen[strings.ToLower(c.Criterion)] = true
			a.EvaluationCriteria = append(a.EvaluationCriteria, c)
		}
	}

	lots := map[int]bool{}
	for _, l := range a.Lots {
		lots[l.LotNumber] = true
	}
	for _, l := range b.Lots {
		if !lots[l.LotNumber] {
			lots[l.LotNumber] = true
			a.Lots = append(a.Lots, l)
		}
	}
	return a
}

func mergeDeadlines(a, b *report.Deadlines) *report.Deadlines {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.SubmissionDeadline = firstString(a.SubmissionDeadline, b.SubmissionDeadline)
	a.QuestionsDeadline = firstString(a.QuestionsDeadline, b.QuestionsDeadline)
	a.ContractDuration = firstString(a.ContractDuration, b.ContractDuration)
	a.DeliveryTerms = firstString(a.DeliveryTerms, b.DeliveryTerms)
	return a
}

func firstString(a, b *string) *string {
	if a != nil && *a != "" {
		return a
	}
	return b
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" && !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
