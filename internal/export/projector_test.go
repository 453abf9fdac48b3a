package export

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"fieldsurvey/api/internal/answers"
	"fieldsurvey/api/internal/store"
)

func bagFromJSON(t *testing.T, raw string) answers.Bag {
	t.Helper()
	var bag answers.Bag
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		t.Fatalf("decode answers: %v", err)
	}
	return bag
}

func testSubmission(t *testing.T, id, invoice, answersJSON string) store.SubmissionWithJoins {
	t.Helper()
	return store.SubmissionWithJoins{
		Submission: store.Submission{
			ID:              id,
			SurveyID:        "srv_1",
			WorkerID:        "usr_w1",
			CustomerName:    "Ali Raza",
			CustomerPhone:   "03001234567",
			CNIC:            "13101-2345678-9",
			InvoiceNumber:   invoice,
			InvoiceImageURL: "https://cdn.example.com/" + id + "/invoice.jpg",
			Answers:         bagFromJSON(t, answersJSON),
			CreatedAt:       time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		},
		WorkerName:  "Ayesha",
		MallName:    "Packages Mall",
		SurveyTitle: "Customer Feedback",
	}
}

func TestProjectFixedColumns(t *testing.T) {
	sub := testSubmission(t, "sub_1", "INV-001", `{}`)
	table := Project([]store.SubmissionWithJoins{sub}, nil)

	wantHeaders := []string{
		"Submission ID", "Customer Name", "Customer Phone", "CNIC",
		"Invoice Number", "Worker Name", "Mall Name", "Survey Title",
		"Answers", "Invoice Image URL", "Customer Image URL", "Submission Date",
	}
	if !reflect.DeepEqual(table.Headers, wantHeaders) {
		t.Fatalf("headers = %v, want %v", table.Headers, wantHeaders)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table.Rows))
	}

	row := table.Rows[0]
	if row[0] != "sub_1" || row[1] != "Ali Raza" || row[4] != "INV-001" {
		t.Errorf("unexpected identity columns: %v", row[:8])
	}
	if row[10] != "N/A" {
		t.Errorf("missing customer image must render as N/A, got %q", row[10])
	}
	if row[11] != "2026-03-14 10:30:00" {
		t.Errorf("unexpected date format: %q", row[11])
	}
}

func TestProjectDynamicColumns(t *testing.T) {
	catalog := NewQuestionCatalog([]answers.QuestionText{
		{ID: "q_1", Text: "How was the service?"},
	})

	first := testSubmission(t, "sub_1", "INV-001", `{"q_1":"Good"}`)
	second := testSubmission(t, "sub_2", "INV-002", `{}`)
	table := Project([]store.SubmissionWithJoins{first, second}, &catalog)

	if table.Headers[8] != "How was the service?" {
		t.Fatalf("dynamic column header = %q", table.Headers[8])
	}
	if table.Rows[0][8] != "Good" {
		t.Errorf("answered dynamic cell = %q, want Good", table.Rows[0][8])
	}
	if table.Rows[1][8] != "" {
		t.Errorf("unanswered dynamic cell = %q, want empty", table.Rows[1][8])
	}
	// Row order mirrors input order.
	if table.Rows[0][0] != "sub_1" || table.Rows[1][0] != "sub_2" {
		t.Errorf("row order changed: %q, %q", table.Rows[0][0], table.Rows[1][0])
	}
}

func TestProjectListAnswersJoined(t *testing.T) {
	catalog := NewQuestionCatalog([]answers.QuestionText{
		{ID: "q_multi", Text: "Which brands?"},
	})
	sub := testSubmission(t, "sub_1", "INV-001", `{"q_multi":["Nike","Adidas"]}`)
	table := Project([]store.SubmissionWithJoins{sub}, &catalog)

	if table.Rows[0][8] != "Nike, Adidas" {
		t.Errorf("list answer = %q, want comma-joined", table.Rows[0][8])
	}
}

func TestProjectCatchAllRetainsStaleAnswers(t *testing.T) {
	// The catalog knows nothing about q_old; the data must survive in the
	// catch-all column anyway.
	catalog := NewQuestionCatalog([]answers.QuestionText{
		{ID: "q_new", Text: "New question"},
	})
	sub := testSubmission(t, "sub_1", "INV-001", `{"q_old":"vanished"}`)
	table := Project([]store.SubmissionWithJoins{sub}, &catalog)

	catchAll := table.Rows[0][9]
	if catchAll != `{"q_old":"vanished"}` {
		t.Errorf("catch-all column = %q", catchAll)
	}
}

func TestProjectDeterministic(t *testing.T) {
	catalog := NewQuestionCatalog([]answers.QuestionText{
		{ID: "q_1", Text: "Q1"},
		{ID: "q_2", Text: "Q2"},
	})
	subs := []store.SubmissionWithJoins{
		testSubmission(t, "sub_1", "INV-001", `{"q_2":"b","q_1":"a"}`),
		testSubmission(t, "sub_2", "INV-002", `{"q_1":["x","y"]}`),
	}

	first := Project(subs, &catalog)
	second := Project(subs, &catalog)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("Project is not deterministic over identical inputs")
	}
}

func TestProjectEmptyInput(t *testing.T) {
	table := Project(nil, nil)
	if len(table.Rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(table.Rows))
	}
	if len(table.Headers) == 0 {
		t.Fatal("headers must be emitted even for an empty export")
	}
}

func TestQuestionCatalogDeduplicates(t *testing.T) {
	catalog := NewQuestionCatalog([]answers.QuestionText{
		{ID: "q_1", Text: "First"},
		{ID: "q_1", Text: "Duplicate"},
		{ID: "q_2", Text: "Second"},
	})
	if catalog.Len() != 2 {
		t.Fatalf("catalog length = %d, want 2", catalog.Len())
	}
	text, _ := catalog.Text("q_1")
	if text != "First" {
		t.Errorf("first occurrence must win, got %q", text)
	}
}
