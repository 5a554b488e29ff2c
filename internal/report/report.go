// Package report defines the structured outputs requested from the model:
// per-document extractions, the merged report and its QA evaluation.
package report

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// DocumentType classifies a source document.
type DocumentType string

const (
	DocTechnicalSpec DocumentType = "technical_spec"
	DocContract      DocumentType = "contract"
	DocInvitation    DocumentType = "invitation"
	DocQualification DocumentType = "qualification"
	DocEvaluation    DocumentType = "evaluation"
	DocAnnex         DocumentType = "annex"
	DocOther         DocumentType = "other"
)

type Organization struct {
	Name    string  `json:"name"`
	Code    *string `json:"code"`
	Contact *string `json:"contact"`
}

type MoneyValue struct {
	Amount      *float64 `json:"amount"`
	Currency    string   `json:"currency"`
	VATIncluded *bool    `json:"vat_included"`
}

type Deadlines struct {
	SubmissionDeadline *string `json:"submission_deadline"`
	QuestionsDeadline  *string `json:"questions_deadline"`
	ContractDuration   *string `json:"contract_duration"`
	DeliveryTerms      *string `json:"delivery_terms"`
}

type EvaluationCriterion struct {
	Criterion     string   `json:"criterion"`
	WeightPercent *float64 `json:"weight_percent"`
	Description   *string  `json:"description"`
}

type Lot struct {
	LotNumber      int      `json:"lot_number"`
	Title          string   `json:"title"`
	EstimatedValue *float64 `json:"estimated_value"`
}

// ExtractionResult holds the facts pulled from one document.
type ExtractionResult struct {
	ProjectTitle              *string               `json:"project_title"`
	ProjectSummary            string                `json:"project_summary"`
	ProcurementType           *string               `json:"procurement_type"`
	ProcuringOrganization     *Organization         `json:"procuring_organization"`
	EstimatedValue            *MoneyValue           `json:"estimated_value"`
	Deadlines                 *Deadlines            `json:"deadlines"`
	KeyRequirements           []string              `json:"key_requirements"`
	QualificationRequirements []string              `json:"qualification_requirements"`
	EvaluationCriteria        []EvaluationCriterion `json:"evaluation_criteria"`
	Lots                      []Lot                 `json:"lots"`
	SpecialConditions         []string              `json:"special_conditions"`
	ConfidenceNotes           []string              `json:"confidence_notes"`
}

func (*ExtractionResult) SchemaName() string { return "ExtractionResult" }

func (*ExtractionResult) JSONSchema() map[string]any { return mustSchema("extraction_result.json") }

// Validate checks constraints the JSON schema cannot express to every vendor.
func (r *ExtractionResult) Validate() error {
	var errs []error
	for i, c := range r.EvaluationCriteria {
		if c.Criterion == "" {
			errs = append(errs, fmt.Errorf("evaluation_criteria[%d]: criterion is required", i))
		}
		if c.WeightPercent != nil && (*c.WeightPercent < 0 || *c.WeightPercent > 100) {
			errs = append(errs, fmt.Errorf("evaluation_criteria[%d]: weight_percent %v out of range", i, *c.WeightPercent))
		}
	}
	for i, l := range r.Lots {
		if l.LotNumber < 0 {
			errs = append(errs, fmt.Errorf("lots[%d]: negative lot_number", i))
		}
	}
	if v := r.EstimatedValue; v != nil && v.Amount != nil && *v.Amount < 0 {
		errs = append(errs, errors.New("estimated_value.amount must not be negative"))
	}
	return errors.Join(errs...)
}

// SourceDocument lists a document that contributed to a report.
type SourceDocument struct {
	Filename string       `json:"filename"`
	Type     DocumentType `json:"type"`
	Pages    int          `json:"pages"`
}

// AggregatedReport merges all extractions of one analysis.
type AggregatedReport struct {
	ExtractionResult
	SourceDocuments []SourceDocument `json:"source_documents"`
}

func (*AggregatedReport) SchemaName() string { return "AggregatedReport" }

// JSONSchema extends the extraction schema with source_documents.
func (*AggregatedReport) JSONSchema() map[string]any {
	s := mustSchema("extraction_result.json")
	s["title"] = "AggregatedReport"
	s["description"] = "Merged procurement report built from all source documents."
	s["properties"].(map[string]any)["source_documents"] = map[string]any{
		"type":    "array",
		"items":   map[string]any{"$ref": "#/$defs/SourceDocument"},
		"default": []any{},
		"title":   "Source Documents",
	}
	s["$defs"].(map[string]any)["SourceDocument"] = map[string]any{
		"title": "SourceDocument",
		"type":  "object",
		"properties": map[string]any{
			"filename": map[string]any{"type": "string", "title": "Filename"},
			"type":     map[string]any{"type": "string", "title": "Type", "enum": documentTypes()},
			"pages":    map[string]any{"type": "integer", "title": "Pages"},
		},
		"required": []any{"filename", "type", "pages"},
	}
	return s
}

func (r *AggregatedReport) Validate() error {
	errs := []error{r.ExtractionResult.Validate()}
	for i, d := range r.SourceDocuments {
		if d.Filename == "" {
			errs = append(errs, fmt.Errorf("source_documents[%d]: filename is required", i))
		}
		if d.Pages < 0 {
			errs = append(errs, fmt.Errorf("source_documents[%d]: negative pages", i))
		}
	}
	return errors.Join(errs...)
}

// QAEvaluation judges the completeness of an AggregatedReport.
type QAEvaluation struct {
	CompletenessScore float64  `json:"completeness_score"`
	MissingFields     []string `json:"missing_fields"`
	Conflicts         []string `json:"conflicts"`
	Suggestions       []string `json:"suggestions"`
}

func (*QAEvaluation) SchemaName() string { return "QAEvaluation" }

func (*QAEvaluation) JSONSchema() map[string]any { return mustSchema("qa_evaluation.json") }

func (q *QAEvaluation) Validate() error {
	if q.CompletenessScore < 0 || q.CompletenessScore > 1 {
		return fmt.Errorf("completeness_score %v must be between 0 and 1", q.CompletenessScore)
	}
	return nil
}

func documentTypes() []any {
	return []any{
		string(DocTechnicalSpec), string(DocContract), string(DocInvitation),
		string(DocQualification), string(DocEvaluation), string(DocAnnex), string(DocOther),
	}
}

// mustSchema decodes an embedded schema. Each call returns a fresh tree.
func mustSchema(name string) map[string]any {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("report: missing schema %s: %v", name, err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("report: invalid schema %s: %v", name, err))
	}
	return out
}
