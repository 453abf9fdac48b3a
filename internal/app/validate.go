package app

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"fieldsurvey/api/internal/answers"
	"fieldsurvey/api/internal/store"
)

// FieldError attributes one validation failure to the form field that
// caused it. Dynamic question failures use question_<id> as the field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors accumulates every violation in a payload. Validation is never
// fail-fast so a client can surface all bad fields at once.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "valid"
	}
	parts := make([]string, 0, len(e))
	for _, fieldErr := range e {
		parts = append(parts, fieldErr.Field+": "+fieldErr.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *FieldErrors) add(field, message string) {
	*e = append(*e, FieldError{Field: field, Message: message})
}

// SubmissionInput is the raw payload a worker posts for one customer
// interview.
type SubmissionInput struct {
	SurveyID         string      `json:"surveyId"`
	CustomerName     string      `json:"customerName"`
	CustomerPhone    string      `json:"customerPhone"`
	CNIC             string      `json:"cnic"`
	InvoiceNumber    string      `json:"invoiceNumber"`
	InvoiceImageURL  string      `json:"invoiceImageUrl"`
	CustomerImageURL string      `json:"customerImageUrl"`
	Answers          answers.Bag `json:"answers"`
}

var (
	phonePattern    = regexp.MustCompile(`^03\d{9}$`)
	phoneSeparators = regexp.MustCompile(`[\s\-()]`)
	cnicPattern     = regexp.MustCompile(`^\d{5}-\d{7}-\d{1}$`)
)

// normalizePhone strips spaces, hyphens, and parentheses so numbers written
// as 0300-1234567 or (0300) 1234567 validate the same as 03001234567.
func normalizePhone(phone string) string {
	return phoneSeparators.ReplaceAllString(phone, "")
}

func validURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return parsed.IsAbs() && parsed.Host != ""
}

// ValidateSubmission checks the fixed customer fields and every question
// against the survey's live question set: required questions answered, radio
// answers scalar, checkbox answers lists, choice answers drawn from the
// question's options. It is a pure check and reports all violations together.
func ValidateSubmission(input SubmissionInput, questions []store.Question) FieldErrors {
	var errs FieldErrors

	if strings.TrimSpace(input.SurveyID) == "" {
		errs.add("surveyId", "Survey is required")
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		errs.add("customerName", "Customer name is required")
	}

	phone := strings.TrimSpace(input.CustomerPhone)
	if phone == "" {
		errs.add("customerPhone", "Phone number is required")
	} else if !phonePattern.MatchString(normalizePhone(phone)) {
		errs.add("customerPhone", "Phone number must be 11 digits starting with 03")
	}

	cnic := strings.TrimSpace(input.CNIC)
	if cnic == "" {
		errs.add("cnic", "CNIC is required")
	} else if !cnicPattern.MatchString(cnic) {
		errs.add("cnic", "CNIC must match the format 12345-1234567-1")
	}

	if strings.TrimSpace(input.InvoiceNumber) == "" {
		errs.add("invoiceNumber", "Invoice number is required")
	}

	if strings.TrimSpace(input.InvoiceImageURL) == "" {
		errs.add("invoiceImageUrl", "Invoice image is required")
	} else if !validURL(input.InvoiceImageURL) {
		errs.add("invoiceImageUrl", "Invoice image must be a valid URL")
	}

	for _, question := range questions {
		value, answered := input.Answers.Get(question.ID)
		field := "question_" + question.ID

		if question.Required && (!answered || value.IsEmpty()) {
			errs.add(field, fmt.Sprintf("%q is required", question.Question))
			continue
		}
		if !answered || value.IsEmpty() {
			continue
		}

		switch question.Type {
		case store.QuestionTypeRadio:
			if value.IsList() {
				errs.add(field, fmt.Sprintf("%q takes a single answer", question.Question))
				break
			}
			if !containsOption(question.Options, value.ScalarValue()) {
				errs.add(field, fmt.Sprintf("%q is not an option for %q", value.ScalarValue(), question.Question))
			}
		case store.QuestionTypeCheckbox:
			if !value.IsList() {
				errs.add(field, fmt.Sprintf("%q takes a list of answers", question.Question))
				break
			}
			for _, selected := range value.ListValue() {
				if !containsOption(question.Options, selected) {
					errs.add(field, fmt.Sprintf("%q is not an option for %q", selected, question.Question))
				}
			}
		}
	}

	return errs
}

func containsOption(options []string, candidate string) bool {
	for _, option := range options {
		if option == candidate {
			return true
		}
	}
	return false
}

// ValidateQuestionInputs pre-validates a question set before a create or
// replace mutates anything. Index-keyed fields let the admin UI attribute
// errors to the question row being edited.
func ValidateQuestionInputs(inputs []store.QuestionInput) FieldErrors {
	var errs FieldErrors

	if len(inputs) == 0 {
		errs.add("questions", "At least one question is required")
		return errs
	}

	for i, input := range inputs {
		field := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(input.Question) == "" {
			errs.add(field, "Question text is required")
		}
		switch input.Type {
		case store.QuestionTypeText:
		case store.QuestionTypeRadio, store.QuestionTypeCheckbox:
			if !hasNonEmptyOption(input.Options) {
				errs.add(field, "Choice questions need at least one non-empty option")
			}
		default:
			errs.add(field, fmt.Sprintf("Unknown question type %q", input.Type))
		}
	}

	return errs
}

func hasNonEmptyOption(options []string) bool {
	for _, option := range options {
		if strings.TrimSpace(option) != "" {
			return true
		}
	}
	return false
}
