package app

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"docmind/pkg/domain"
)

const analysisDateLayout = "2006-01-02 15:04:05 MST"

// Analysis is a plain-text report of a document: its extracted text followed
// by the whole conversation in order.
type Analysis struct {
	FileName string
	Body     string
}

// Export renders the analysis report for a document the user owns.
func (a *App) Export(userID, id string) (Analysis, error) {
	if _, err := a.ownedDocument(userID, id); err != nil {
		return Analysis{}, err
	}
	doc, err := a.store.FindDocumentWithMessages(id)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		FileName: analysisFileName(documentName(doc)),
		Body:     renderAnalysis(doc),
	}, nil
}

func documentName(doc domain.Document) string {
	if name := strings.TrimSpace(doc.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(doc.FileName)
}

func renderAnalysis(doc domain.Document) string {
	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var b strings.Builder
	b.WriteString("Document Name: " + documentName(doc) + "\n")
	b.WriteString("Date: " + created.UTC().Format(analysisDateLayout) + "\n\n")
	b.WriteString("--- Extracted Text ---\n")
	b.WriteString(doc.ExtractedText + "\n\n")
	b.WriteString("--- LLM Interactions ---\n")
	for _, m := range doc.Messages {
		speaker := "Assistant"
		if m.Role == domain.RoleUser {
			speaker = "User"
		}
		b.WriteString(speaker + ": " + m.Content + "\n\n")
	}
	return b.String()
}

// analysisFileName drops the extension of name and appends "_analysis.txt".
// Path separators, quotes and control characters are replaced so the result
// is safe in a Content-Disposition header.
func analysisFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, base)
	base = strings.TrimSpace(base)
	if base == "" {
		base = "document"
	}
	return base + "_analysis.txt"
}
