// Package export flattens submissions into tabular and printable artifacts.
package export

import (
	"errors"

	"fieldsurvey/api/internal/answers"
)

// Table is a flat row-oriented projection of submissions. Rows preserve the
// order the caller supplied; the projector never re-sorts.
type Table struct {
	Headers []string
	Rows    [][]string
}

// QuestionCatalog is an ordered question-id to question-text mapping built
// from a schema snapshot. Iteration order is schema order, which defines
// dynamic column order in the export.
type QuestionCatalog struct {
	ids   []string
	texts map[string]string
}

func NewQuestionCatalog(questions []answers.QuestionText) QuestionCatalog {
	catalog := QuestionCatalog{texts: make(map[string]string, len(questions))}
	for _, question := range questions {
		if _, seen := catalog.texts[question.ID]; seen {
			continue
		}
		catalog.ids = append(catalog.ids, question.ID)
		catalog.texts[question.ID] = question.Text
	}
	return catalog
}

func (c QuestionCatalog) Len() int {
	return len(c.ids)
}

func (c QuestionCatalog) IDs() []string {
	return c.ids
}

func (c QuestionCatalog) Text(id string) (string, bool) {
	text, ok := c.texts[id]
	return text, ok
}

// Result contains a rendered export artifact.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
