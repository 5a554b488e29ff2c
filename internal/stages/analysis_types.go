package stages

import (
	"strings"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
)

// AnalysisType selects the focus of the extraction and aggregation prompts.
type AnalysisType string

const (
	AnalysisQuick        AnalysisType = "quick"
	AnalysisRequirements AnalysisType = "requirements"
	AnalysisRisks        AnalysisType = "risks"
	AnalysisDetailed     AnalysisType = "detailed"
	AnalysisCustom       AnalysisType = "custom"
)

type analysisProfile struct {
	thinking         providers.ThinkingLevel
	extractionFocus  string
	aggregationFocus string
}

var profiles = map[AnalysisType]analysisProfile{
	AnalysisQuick: {
		thinking: providers.ThinkingOff,
		extractionFocus: `

## FOCUS: QUICK OVERVIEW
Fill only the essentials: project_title, project_summary (2-3 sentences), estimated_value,
deadlines.submission_deadline, procuring_organization and procurement_type.
Leave other fields empty unless the information is obvious.`,
		aggregationFocus: `

## FOCUS: QUICK OVERVIEW
Produce a short report with the key facts only: project_title, project_summary,
estimated_value, deadlines, procuring_organization and procurement_type.`,
	},
	AnalysisRequirements: {
		thinking: providers.ThinkingLow,
		extractionFocus: `

## FOCUS: REQUIREMENTS AND QUALIFICATION
Be exhaustive in qualification_requirements, key_requirements and evaluation_criteria
(weights and formulas). Other fields can be filled normally.`,
		aggregationFocus: `

## FOCUS: REQUIREMENTS AND QUALIFICATION
The report must list every qualification requirement, every key technical requirement
and the exact evaluation criteria with weights.`,
	},
	AnalysisRisks: {
		thinking: providers.ThinkingLow,
		extractionFocus: `

## FOCUS: RISKS
Be exhaustive in special_conditions: penalties, guarantees, late-delivery consequences,
payment terms and insurance, always with concrete numbers. Record every deadline.`,
		aggregationFocus: `

## FOCUS: RISKS
The report must surface every risk for the supplier in special_conditions with concrete
percentages, amounts and deadlines.`,
	},
	AnalysisDetailed: {thinking: providers.ThinkingLow},
	AnalysisCustom:   {thinking: providers.ThinkingLow},
}

// ParseAnalysisType maps unknown values to AnalysisDetailed.
func ParseAnalysisType(raw string) AnalysisType {
	t := AnalysisType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := profiles[t]; ok {
		return t
	}
	return AnalysisDetailed
}

// ThinkingFor returns override when it names a valid level, else the
// analysis type's default.
func ThinkingFor(t AnalysisType, override string) providers.ThinkingLevel {
	switch lvl := providers.ThinkingLevel(strings.ToLower(strings.TrimSpace(override))); lvl {
	case providers.ThinkingOff, providers.ThinkingLow, providers.ThinkingMedium, providers.ThinkingHigh:
		return lvl
	}
	return profileFor(t).thinking
}

func profileFor(t AnalysisType) analysisProfile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[AnalysisDetailed]
}

func withFocus(system string, t AnalysisType, custom, focus string) string {
	if t == AnalysisCustom && strings.TrimSpace(custom) != "" {
		return system + "\n\n## USER INSTRUCTIONS\n" + strings.TrimSpace(custom)
	}
	return system + focus
}

// ExtractionSystemPrompt returns the extraction system prompt for t.
func ExtractionSystemPrompt(t AnalysisType, custom string) string {
	return withFocus(extractionSystem, t, custom, profileFor(t).extractionFocus)
}

// AggregationSystemPrompt returns the aggregation system prompt for t.
func AggregationSystemPrompt(t AnalysisType, custom string) string {
	return withFocus(aggregationSystem, t, custom, profileFor(t).aggregationFocus)
}
