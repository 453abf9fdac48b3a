package store

import (
	"time"

	"fieldsurvey/api/internal/answers"
)

type User struct {
	ID           string
	Email        string
	Name         string
	Role         string // 'admin' or 'worker'
	MallName     string
	PasswordHash string
	CreatedAt    time.Time
}

type Survey struct {
	ID        string
	Title     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Question types enumerate the supported answer shapes.
const (
	QuestionTypeText     = "text"
	QuestionTypeRadio    = "radio"
	QuestionTypeCheckbox = "checkbox"
)

// Question is one item in a survey's schema. Options is non-nil only for
// radio and checkbox questions. OrderIndex is a dense 0-based sequence
// within the survey and defines display and export column order.
type Question struct {
	ID         string
	SurveyID   string
	Question   string
	Type       string
	Options    []string
	Required   bool
	OrderIndex int
	CreatedAt  time.Time
}

// QuestionInput is the schema payload for create/replace. IDs and order
// indexes are assigned when the set is written, so replacing a question set
// discards the previous question identities.
type QuestionInput struct {
	Question string   `json:"question"`
	Type     string   `json:"type"`
	Options  []string `json:"options"`
	Required bool     `json:"required"`
}

// Submission is one collected response. Answers keys were the question IDs
// live at submission time; question replacement orphans them, so nothing
// here may assume they still resolve against the current schema.
type Submission struct {
	ID               string
	SurveyID         string
	WorkerID         string
	CustomerName     string
	CustomerPhone    string
	CNIC             string
	InvoiceNumber    string
	InvoiceImageURL  string
	CustomerImageURL *string
	Answers          answers.Bag
	CreatedAt        time.Time
}

// SubmissionWithJoins carries the worker and survey display fields resolved
// by the store so list and export paths avoid per-row lookups.
type SubmissionWithJoins struct {
	Submission
	WorkerName  string
	MallName    string
	SurveyTitle string
}

// SubmissionFilter narrows submission listings. Zero From/To means no bound
// on that side. Page is 1-based.
type SubmissionFilter struct {
	SurveyID string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// WorkerStat is a derived per-worker submission count for one survey.
type WorkerStat struct {
	WorkerID string
	Name     string
	MallName string
	Count    int
}
