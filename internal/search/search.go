// Package search provides full-text lookup over submissions, backed by
// Meilisearch with a PostgreSQL FTS fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	CustomerName  string `json:"customerName"`
	InvoiceNumber string `json:"invoiceNumber"`
	WorkerName    string `json:"workerName"`
	SurveyID      string `json:"surveyId"`
	SurveyTitle   string `json:"surveyTitle"`
	Snippet       string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text     string
	SurveyID string // empty = all surveys
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID            string `json:"id"`
	SurveyID      string `json:"surveyId"`
	SurveyTitle   string `json:"surveyTitle"`
	CustomerName  string `json:"customerName"`
	InvoiceNumber string `json:"invoiceNumber"`
	WorkerName    string `json:"workerName"`
	CreatedAt     int64  `json:"createdAt"`
}
