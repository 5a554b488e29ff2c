package extract

import (
	"strings"

	"github.com/marcobitx/foxdoc/internal/report"
)

// classifyPrefix is how much of the content is scanned for keywords.
const classifyPrefix = 2000

var docTypeKeywords = []struct {
	docType  report.DocumentType
	keywords []string
}{
	{report.DocTechnicalSpec, []string{"techninė", "technin", "specifikacij"}},
	{report.DocContract, []string{"sutart"}},
	{report.DocInvitation, []string{"kvietimas", "skelbimas"}},
	{report.DocQualification, []string{"kvalifikac"}},
	{report.DocEvaluation, []string{"vertinim", "kriterij"}},
	{report.DocAnnex, []string{"priedas", "forma", "šablonas"}},
}

// ClassifyDocument guesses the procurement document type from its file
// name, then from the beginning of its text.
func ClassifyDocument(filename, content string) report.DocumentType {
	if t, ok := matchKeywords(strings.ToLower(filename)); ok {
		return t
	}
	head := content
	if r := []rune(content); len(r) > classifyPrefix {
		head = string(r[:classifyPrefix])
	}
	if t, ok := matchKeywords(strings.ToLower(head)); ok {
		return t
	}
	return report.DocOther
}

func matchKeywords(s string) (report.DocumentType, bool) {
	if s == "" {
		return "", false
	}
	for _, entry := range docTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(s, kw) {
				return entry.docType, true
			}
		}
	}
	return "", false
}
