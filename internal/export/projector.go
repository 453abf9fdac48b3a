package export

import (
	"fieldsurvey/api/internal/store"
)

// noImagePlaceholder marks a missing optional customer photo in exports.
const noImagePlaceholder = "N/A"

// submissionDateLayout is the fixed human-readable timestamp format used in
// export rows.
const submissionDateLayout = "2006-01-02 15:04:05"

var fixedLeadingHeaders = []string{
	"Submission ID",
	"Customer Name",
	"Customer Phone",
	"CNIC",
	"Invoice Number",
	"Worker Name",
	"Mall Name",
	"Survey Title",
}

var fixedTrailingHeaders = []string{
	"Answers",
	"Invoice Image URL",
	"Customer Image URL",
	"Submission Date",
}

// Project flattens submissions into a table: fixed identity columns, one
// dynamic column per catalog question, then the raw answer bag and trailing
// metadata. The catch-all Answers column serializes the full bag in a
// deterministic key-ordered form so answers referencing replaced question
// ids are never lost. Pure and total: malformed per-row data becomes a
// placeholder, never an error.
func Project(submissions []store.SubmissionWithJoins, catalog *QuestionCatalog) Table {
	headers := make([]string, 0, len(fixedLeadingHeaders)+len(fixedTrailingHeaders))
	headers = append(headers, fixedLeadingHeaders...)
	if catalog != nil {
		for _, id := range catalog.IDs() {
			text, _ := catalog.Text(id)
			headers = append(headers, text)
		}
	}
	headers = append(headers, fixedTrailingHeaders...)

	rows := make([][]string, 0, len(submissions))
	for _, submission := range submissions {
		row := make([]string, 0, len(headers))
		row = append(row,
			submission.ID,
			submission.CustomerName,
			submission.CustomerPhone,
			submission.CNIC,
			submission.InvoiceNumber,
			submission.WorkerName,
			submission.MallName,
			submission.SurveyTitle,
		)

		if catalog != nil {
			for _, id := range catalog.IDs() {
				value, ok := submission.Answers.Get(id)
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, value.Display())
			}
		}

		row = append(row, submission.Answers.CanonicalJSON())
		row = append(row, submission.InvoiceImageURL)
		if submission.CustomerImageURL != nil && *submission.CustomerImageURL != "" {
			row = append(row, *submission.CustomerImageURL)
		} else {
			row = append(row, noImagePlaceholder)
		}
		row = append(row, submission.CreatedAt.Format(submissionDateLayout))

		rows = append(rows, row)
	}

	return Table{Headers: headers, Rows: rows}
}
