package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"fieldsurvey/api/internal/answers"
	"fieldsurvey/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackReportTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// ReportAnswer is one resolved answer line on a submission report.
type ReportAnswer struct {
	Question string
	Value    string
}

// ReportData holds data for the per-submission report template.
type ReportData struct {
	SubmissionID     string
	SurveyTitle      string
	CustomerName     string
	CustomerPhone    string
	CNIC             string
	InvoiceNumber    string
	WorkerName       string
	MallName         string
	InvoiceImageURL  string
	CustomerImageURL string
	Answers          []ReportAnswer
	CreatedAt        time.Time
}

// NewReportData builds report data from a joined submission and its answers
// resolved against the current schema.
func NewReportData(submission store.SubmissionWithJoins, resolved []answers.Resolved) ReportData {
	data := ReportData{
		SubmissionID:    submission.ID,
		SurveyTitle:     submission.SurveyTitle,
		CustomerName:    submission.CustomerName,
		CustomerPhone:   submission.CustomerPhone,
		CNIC:            submission.CNIC,
		InvoiceNumber:   submission.InvoiceNumber,
		WorkerName:      submission.WorkerName,
		MallName:        submission.MallName,
		InvoiceImageURL: submission.InvoiceImageURL,
		CreatedAt:       submission.CreatedAt,
	}
	if submission.CustomerImageURL != nil {
		data.CustomerImageURL = *submission.CustomerImageURL
	}
	for _, item := range resolved {
		data.Answers = append(data.Answers, ReportAnswer{
			Question: item.QuestionText,
			Value:    item.DisplayValue,
		})
	}
	return data
}

// RenderSubmissionPDF renders a single submission as a printable PDF report.
func RenderSubmissionPDF(data ReportData) (*Result, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render report template: %w", err)
	}
	return renderPDF(buf.String(), "submission-"+data.InvoiceNumber)
}

// fallbackReportTemplate is used if the embedded template fails to load.
const fallbackReportTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Submission {{.InvoiceNumber}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; }
    td, th { border: 1px solid #ccc; padding: 0.5rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.SurveyTitle}}</h1>
  <div class="meta">{{.WorkerName}} | {{.MallName}} | {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
  <table>
    <tr><th>Customer</th><td>{{.CustomerName}}</td></tr>
    <tr><th>Phone</th><td>{{.CustomerPhone}}</td></tr>
    <tr><th>CNIC</th><td>{{.CNIC}}</td></tr>
    <tr><th>Invoice</th><td>{{.InvoiceNumber}}</td></tr>
  </table>
  {{if .Answers}}
  <h2>Answers</h2>
  <table>
    {{range .Answers}}<tr><th>{{.Question}}</th><td>{{.Value}}</td></tr>{{end}}
  </table>
  {{end}}
</body>
</html>`
