package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"fieldsurvey/api/internal/answers"
	"fieldsurvey/api/internal/auth"
	"fieldsurvey/api/internal/authpw"
	"fieldsurvey/api/internal/config"
	"fieldsurvey/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn            func(context.Context, string) (store.User, error)
	getUserByIDFn               func(context.Context, string) (store.User, error)
	insertUserFn                func(context.Context, store.User) error
	listSurveysFn               func(context.Context, bool) ([]store.Survey, error)
	getSurveyFn                 func(context.Context, string) (store.Survey, error)
	createSurveyWithQuestionsFn func(context.Context, store.Survey, []store.Question) error
	setSurveyActiveFn           func(context.Context, string, bool) (bool, error)
	listQuestionsFn             func(context.Context, string) ([]store.Question, error)
	replaceQuestionsFn          func(context.Context, string, []store.Question) error
	insertSubmissionFn          func(context.Context, store.Submission) (store.Submission, error)
	listSubmissionsFn           func(context.Context, store.SubmissionFilter) ([]store.SubmissionWithJoins, int, error)
	getSubmissionFn             func(context.Context, string) (store.SubmissionWithJoins, error)
	workerStatsFn               func(context.Context, string) ([]store.WorkerStat, error)
	summaryCountsFn             func(context.Context) (int, int, int, error)
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn == nil {
		return store.User{}, sql.ErrNoRows
	}
	return f.getUserByEmailFn(ctx, email)
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn == nil {
		return store.User{}, sql.ErrNoRows
	}
	return f.getUserByIDFn(ctx, id)
}

func (f *fakeStore) InsertUser(ctx context.Context, user store.User) error {
	if f.insertUserFn == nil {
		return nil
	}
	return f.insertUserFn(ctx, user)
}

func (f *fakeStore) ListSurveys(ctx context.Context, activeOnly bool) ([]store.Survey, error) {
	if f.listSurveysFn == nil {
		return nil, nil
	}
	return f.listSurveysFn(ctx, activeOnly)
}

func (f *fakeStore) GetSurvey(ctx context.Context, id string) (store.Survey, error) {
	if f.getSurveyFn == nil {
		return store.Survey{}, sql.ErrNoRows
	}
	return f.getSurveyFn(ctx, id)
}

func (f *fakeStore) CreateSurveyWithQuestions(ctx context.Context, survey store.Survey, questions []store.Question) error {
	if f.createSurveyWithQuestionsFn == nil {
		return nil
	}
	return f.createSurveyWithQuestionsFn(ctx, survey, questions)
}

func (f *fakeStore) SetSurveyActive(ctx context.Context, id string, active bool) (bool, error) {
	if f.setSurveyActiveFn == nil {
		return false, nil
	}
	return f.setSurveyActiveFn(ctx, id, active)
}

func (f *fakeStore) ListQuestions(ctx context.Context, surveyID string) ([]store.Question, error) {
	if f.listQuestionsFn == nil {
		return nil, nil
	}
	return f.listQuestionsFn(ctx, surveyID)
}

func (f *fakeStore) ReplaceQuestions(ctx context.Context, surveyID string, questions []store.Question) error {
	if f.replaceQuestionsFn == nil {
		return nil
	}
	return f.replaceQuestionsFn(ctx, surveyID, questions)
}

func (f *fakeStore) InsertSubmission(ctx context.Context, submission store.Submission) (store.Submission, error) {
	if f.insertSubmissionFn == nil {
		submission.CreatedAt = time.Now()
		return submission, nil
	}
	return f.insertSubmissionFn(ctx, submission)
}

func (f *fakeStore) ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]store.SubmissionWithJoins, int, error) {
	if f.listSubmissionsFn == nil {
		return nil, 0, nil
	}
	return f.listSubmissionsFn(ctx, filter)
}

func (f *fakeStore) GetSubmission(ctx context.Context, id string) (store.SubmissionWithJoins, error) {
	if f.getSubmissionFn == nil {
		return store.SubmissionWithJoins{}, sql.ErrNoRows
	}
	return f.getSubmissionFn(ctx, id)
}

func (f *fakeStore) WorkerStats(ctx context.Context, surveyID string) ([]store.WorkerStat, error) {
	if f.workerStatsFn == nil {
		return nil, nil
	}
	return f.workerStatsFn(ctx, surveyID)
}

func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	if f.summaryCountsFn == nil {
		return 0, 0, 0, nil
	}
	return f.summaryCountsFn(ctx)
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeSessions struct {
	refresh map[string]store.User
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]store.User{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.refresh[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, errors.New("session not found")
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func newTestService(dataStore *fakeStore) (*Service, *fakeSessions) {
	sessions := newFakeSessions()
	service := &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  30 * 24 * time.Hour,
		},
		store:    dataStore,
		sessions: sessions,
		passwd:   authpw.NewService(dataStore),
	}
	return service, sessions
}

func activeSurveyStore() *fakeStore {
	return &fakeStore{
		getSurveyFn: func(ctx context.Context, id string) (store.Survey, error) {
			return store.Survey{ID: id, Title: "Mall Intercept", IsActive: true}, nil
		},
	}
}

func asDomainError(t *testing.T, err error) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	return domainErr
}

func TestSignInIssuesParsableToken(t *testing.T) {
	hash, err := authpw.HashPassword("hunter2-strong")
	if err != nil {
		t.Fatal(err)
	}
	dataStore := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email, Name: "Bilal", Role: RoleWorker, MallName: "Dolmen Mall", PasswordHash: hash}, nil
		},
	}
	service, _ := newTestService(dataStore)

	session, err := service.SignIn(context.Background(), "bilal@example.com", "hunter2-strong")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if session.Role != RoleWorker || session.MallName != "Dolmen Mall" {
		t.Fatalf("session carries wrong identity: %+v", session)
	}

	parsed, err := service.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "Bilal" {
		t.Fatalf("parsed session mismatch: %+v", parsed)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	hash, _ := authpw.HashPassword("hunter2-strong")
	dataStore := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email, PasswordHash: hash}, nil
		},
	}
	service, _ := newTestService(dataStore)

	_, err := service.SignIn(context.Background(), "bilal@example.com", "wrong")
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusUnauthorized || domainErr.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	hash, _ := authpw.HashPassword("hunter2-strong")
	dataStore := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Name: "Bilal", Role: RoleWorker, PasswordHash: hash}, nil
		},
	}
	service, _ := newTestService(dataStore)

	first, err := service.SignIn(context.Background(), "bilal@example.com", "hunter2-strong")
	if err != nil {
		t.Fatal(err)
	}

	second, err := service.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The consumed token is dead.
	if _, err := service.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected the old refresh token to be rejected")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	hash, _ := authpw.HashPassword("hunter2-strong")
	dataStore := &fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", PasswordHash: hash}, nil
		},
	}
	service, _ := newTestService(dataStore)

	session, err := service.SignIn(context.Background(), "bilal@example.com", "hunter2-strong")
	if err != nil {
		t.Fatal(err)
	}
	if err := service.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := service.SessionFromToken(context.Background(), session.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
}

func TestCreateSurveyValidatesInput(t *testing.T) {
	service, _ := newTestService(&fakeStore{})

	_, err := service.CreateSurvey(context.Background(), CreateSurveyInput{Title: "  "})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}

	_, err = service.CreateSurvey(context.Background(), CreateSurveyInput{Title: "Mall Intercept"})
	domainErr = asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("survey without questions should be rejected: %+v", domainErr)
	}
}

func TestCreateSurveyStartsInactive(t *testing.T) {
	var created store.Survey
	dataStore := &fakeStore{
		createSurveyWithQuestionsFn: func(ctx context.Context, survey store.Survey, questions []store.Question) error {
			created = survey
			return nil
		},
	}
	service, _ := newTestService(dataStore)

	_, err := service.CreateSurvey(context.Background(), CreateSurveyInput{
		Title: "Mall Intercept",
		Questions: []store.QuestionInput{
			{Question: "Would you return?", Type: store.QuestionTypeRadio, Options: []string{"Yes", "No"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.IsActive {
		t.Fatal("new surveys must start inactive")
	}
}

func TestSetSurveyActiveNotFound(t *testing.T) {
	service, _ := newTestService(&fakeStore{
		setSurveyActiveFn: func(ctx context.Context, id string, active bool) (bool, error) {
			return false, nil
		},
	})

	_, err := service.SetSurveyActive(context.Background(), "srv_missing", true)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
}

func TestSubmitSubmissionInactiveSurvey(t *testing.T) {
	service, _ := newTestService(&fakeStore{
		getSurveyFn: func(ctx context.Context, id string) (store.Survey, error) {
			return store.Survey{ID: id, Title: "Closed", IsActive: false}, nil
		},
	})

	input := validInput()
	_, err := service.SubmitSubmission(context.Background(), Session{UserID: "usr_1"}, input)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusUnprocessableEntity || domainErr.Code != "SURVEY_INACTIVE" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
}

func TestSubmitSubmissionDuplicateInvoice(t *testing.T) {
	dataStore := activeSurveyStore()
	dataStore.insertSubmissionFn = func(ctx context.Context, submission store.Submission) (store.Submission, error) {
		return store.Submission{}, store.ErrDuplicateInvoice
	}
	service, _ := newTestService(dataStore)

	_, err := service.SubmitSubmission(context.Background(), Session{UserID: "usr_1"}, validInput())
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusConflict || domainErr.Code != "DUPLICATE_INVOICE" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
	if domainErr.Message != "This invoice number has already been submitted" {
		t.Fatalf("unexpected message: %q", domainErr.Message)
	}
}

func TestSubmitSubmissionNormalizesPhone(t *testing.T) {
	dataStore := activeSurveyStore()
	var inserted store.Submission
	dataStore.insertSubmissionFn = func(ctx context.Context, submission store.Submission) (store.Submission, error) {
		inserted = submission
		submission.CreatedAt = time.Now()
		return submission, nil
	}
	service, _ := newTestService(dataStore)

	input := validInput()
	input.CustomerPhone = "0300-123 4567"
	if _, err := service.SubmitSubmission(context.Background(), Session{UserID: "usr_1", UserName: "Bilal"}, input); err != nil {
		t.Fatal(err)
	}
	if inserted.CustomerPhone != "03001234567" {
		t.Fatalf("phone stored as %q, want 03001234567", inserted.CustomerPhone)
	}
	if inserted.WorkerID != "usr_1" {
		t.Fatalf("worker id %q, want usr_1", inserted.WorkerID)
	}
	if inserted.CustomerImageURL != nil {
		t.Fatal("absent customer image should stay nil")
	}
}

func TestGetSubmissionDetailResolvesAgainstCurrentSchema(t *testing.T) {
	bag := answers.NewBag()
	bag.Set("q_live", answers.Scalar("Yes"))
	bag.Set("q_stale", answers.Scalar("vanished"))

	service, _ := newTestService(&fakeStore{
		getSubmissionFn: func(ctx context.Context, id string) (store.SubmissionWithJoins, error) {
			return store.SubmissionWithJoins{
				Submission: store.Submission{ID: id, SurveyID: "srv_1", Answers: bag},
			}, nil
		},
		listQuestionsFn: func(ctx context.Context, surveyID string) ([]store.Question, error) {
			return []store.Question{{ID: "q_live", Question: "Would you return?", Type: store.QuestionTypeRadio}}, nil
		},
	})

	payload, err := service.GetSubmissionDetail(context.Background(), "sub_1")
	if err != nil {
		t.Fatal(err)
	}

	resolved, ok := payload["resolvedAnswers"].([]map[string]any)
	if !ok || len(resolved) != 2 {
		t.Fatalf("expected 2 resolved answers, got %v", payload["resolvedAnswers"])
	}
	if resolved[0]["questionText"] != "Would you return?" || resolved[0]["displayValue"] != "Yes" {
		t.Fatalf("live answer resolved wrong: %v", resolved[0])
	}
	// A key the current schema no longer knows falls back to the raw id.
	if resolved[1]["questionText"] != "q_stale" || resolved[1]["displayValue"] != "vanished" {
		t.Fatalf("stale answer should fall back to its raw key: %v", resolved[1])
	}
}

func TestListSubmissionsRejectsUnknownDateFilter(t *testing.T) {
	service, _ := newTestService(&fakeStore{})

	_, err := service.ListSubmissions(context.Background(), SubmissionListQuery{DateFilter: "fortnight"})
	domainErr := asDomainError(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error: %+v", domainErr)
	}
}

func TestExportIgnoresPagination(t *testing.T) {
	var gotFilter store.SubmissionFilter
	service, _ := newTestService(&fakeStore{
		listSubmissionsFn: func(ctx context.Context, filter store.SubmissionFilter) ([]store.SubmissionWithJoins, int, error) {
			gotFilter = filter
			return nil, 0, nil
		},
	})

	_, err := service.Export(context.Background(), SubmissionListQuery{Page: 3, Limit: 25})
	if err != nil {
		t.Fatal(err)
	}
	if gotFilter.Page != 0 || gotFilter.Limit != 0 {
		t.Fatalf("export must fetch the full set, got page=%d limit=%d", gotFilter.Page, gotFilter.Limit)
	}
}

func TestBootstrapSkipsWhenAdminExists(t *testing.T) {
	inserted := false
	service, _ := newTestService(&fakeStore{
		getUserByEmailFn: func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr_1", Email: email}, nil
		},
		insertUserFn: func(ctx context.Context, user store.User) error {
			inserted = true
			return nil
		},
	})

	if err := service.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("bootstrap must not reseed an existing admin")
	}
}
