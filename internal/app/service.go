package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"fieldsurvey/api/internal/answers"
	"fieldsurvey/api/internal/auth"
	"fieldsurvey/api/internal/authpw"
	"fieldsurvey/api/internal/config"
	"fieldsurvey/api/internal/export"
	"fieldsurvey/api/internal/search"
	"fieldsurvey/api/internal/store"
	"fieldsurvey/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	MallName     string
	JTI          string
	ExpiresAt    time.Time
}

const (
	RoleAdmin  = "admin"
	RoleWorker = "worker"
)

type CreateSurveyInput struct {
	Title     string                `json:"title"`
	Questions []store.QuestionInput `json:"questions"`
}

type ReplaceQuestionsInput struct {
	Questions []store.QuestionInput `json:"questions"`
}

// SubmissionListQuery narrows submission listings and exports. DateFilter is
// one of all, today, week, month, custom; From/To apply only to custom.
type SubmissionListQuery struct {
	SurveyID   string
	DateFilter string
	From       time.Time
	To         time.Time
	Page       int
	Limit      int
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertUser(context.Context, store.User) error
	ListSurveys(context.Context, bool) ([]store.Survey, error)
	GetSurvey(context.Context, string) (store.Survey, error)
	CreateSurveyWithQuestions(context.Context, store.Survey, []store.Question) error
	SetSurveyActive(context.Context, string, bool) (bool, error)
	ListQuestions(context.Context, string) ([]store.Question, error)
	ReplaceQuestions(context.Context, string, []store.Question) error
	InsertSubmission(context.Context, store.Submission) (store.Submission, error)
	ListSubmissions(context.Context, store.SubmissionFilter) ([]store.SubmissionWithJoins, int, error)
	GetSubmission(context.Context, string) (store.SubmissionWithJoins, error)
	WorkerStats(context.Context, string) ([]store.WorkerStat, error)
	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	passwd   *authpw.Service
	search   *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		passwd:   authpw.NewService(dataStore),
		search:   searchService,
	}
}

// Bootstrap seeds a default admin account on an empty database so a fresh
// deployment is usable without manual SQL.
func (s *Service) Bootstrap(ctx context.Context) error {
	if _, err := s.store.GetUserByEmail(ctx, "admin@fieldsurvey.local"); err == nil {
		return nil
	}

	hash, err := authpw.HashPassword("admin-change-me")
	if err != nil {
		return err
	}
	if err := s.store.InsertUser(ctx, store.User{
		ID:           util.NewID("usr"),
		Email:        "admin@fieldsurvey.local",
		Name:         "Administrator",
		Role:         RoleAdmin,
		PasswordHash: hash,
	}); err != nil {
		return err
	}
	log.Printf("bootstrap: seeded default admin account")
	return nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwd.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		Mall: user.MallName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		MallName:     user.MallName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		MallName:  claims.Mall,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) ListSurveys(ctx context.Context, activeOnly bool) ([]map[string]any, error) {
	surveys, err := s.store.ListSurveys(ctx, activeOnly)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(surveys))
	for _, survey := range surveys {
		items = append(items, surveyPayload(survey))
	}
	return items, nil
}

// CreateSurvey inserts a survey with its initial question set. New surveys
// start inactive so an administrator reviews the schema before workers can
// submit against it.
func (s *Service) CreateSurvey(ctx context.Context, input CreateSurveyInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError(FieldErrors{{Field: "title", Message: "Title is required"}})
	}
	if errs := ValidateQuestionInputs(input.Questions); len(errs) > 0 {
		return nil, validationError(errs)
	}

	survey := store.Survey{
		ID:       util.NewID("srv"),
		Title:    title,
		IsActive: false,
	}
	questions := buildQuestions(survey.ID, input.Questions)

	if err := s.store.CreateSurveyWithQuestions(ctx, survey, questions); err != nil {
		return nil, err
	}

	payload := surveyPayload(survey)
	payload["questions"] = questionPayloads(questions)
	return payload, nil
}

func (s *Service) GetSurveyDetail(ctx context.Context, surveyID string) (map[string]any, error) {
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.WorkerStats(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	statPayloads := make([]map[string]any, 0, len(stats))
	for _, stat := range stats {
		statPayloads = append(statPayloads, map[string]any{
			"workerId": stat.WorkerID,
			"name":     stat.Name,
			"mallName": stat.MallName,
			"count":    stat.Count,
		})
	}

	payload := surveyPayload(survey)
	payload["questions"] = questionPayloads(questions)
	payload["workerStats"] = statPayloads
	return payload, nil
}

// ListQuestions returns the survey's current question set in form order.
func (s *Service) ListQuestions(ctx context.Context, surveyID string) ([]map[string]any, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return questionPayloads(questions), nil
}

func (s *Service) SetSurveyActive(ctx context.Context, surveyID string, active bool) (map[string]any, error) {
	updated, err := s.store.SetSurveyActive(ctx, surveyID, active)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Survey not found", nil)
	}
	survey, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return surveyPayload(survey), nil
}

// ReplaceQuestions swaps the survey's whole question set. Existing
// submissions keep their old answer keys; those become stale on purpose and
// are handled by the resolver's raw-key fallback.
func (s *Service) ReplaceQuestions(ctx context.Context, surveyID string, input ReplaceQuestionsInput) ([]map[string]any, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	if errs := ValidateQuestionInputs(input.Questions); len(errs) > 0 {
		return nil, validationError(errs)
	}

	questions := buildQuestions(surveyID, input.Questions)
	if err := s.store.ReplaceQuestions(ctx, surveyID, questions); err != nil {
		return nil, err
	}
	return questionPayloads(questions), nil
}

// SubmitSubmission runs the full acceptance pipeline: survey gate, field
// and question validation, store insert, then search indexing.
func (s *Service) SubmitSubmission(ctx context.Context, session Session, input SubmissionInput) (map[string]any, error) {
	input.SurveyID = strings.TrimSpace(input.SurveyID)
	if input.SurveyID == "" {
		return nil, validationError(FieldErrors{{Field: "surveyId", Message: "Survey is required"}})
	}

	survey, err := s.store.GetSurvey(ctx, input.SurveyID)
	if err != nil {
		return nil, err
	}
	if !survey.IsActive {
		return nil, domainError(http.StatusUnprocessableEntity, "SURVEY_INACTIVE", "This survey is not accepting submissions", nil)
	}

	questions, err := s.store.ListQuestions(ctx, input.SurveyID)
	if err != nil {
		return nil, err
	}
	if errs := ValidateSubmission(input, questions); len(errs) > 0 {
		return nil, validationError(errs)
	}

	submission := store.Submission{
		ID:              util.NewID("sub"),
		SurveyID:        input.SurveyID,
		WorkerID:        session.UserID,
		CustomerName:    strings.TrimSpace(input.CustomerName),
		CustomerPhone:   normalizePhone(strings.TrimSpace(input.CustomerPhone)),
		CNIC:            strings.TrimSpace(input.CNIC),
		InvoiceNumber:   strings.TrimSpace(input.InvoiceNumber),
		InvoiceImageURL: strings.TrimSpace(input.InvoiceImageURL),
		Answers:         input.Answers,
	}
	if customerImage := strings.TrimSpace(input.CustomerImageURL); customerImage != "" {
		submission.CustomerImageURL = &customerImage
	}

	inserted, err := s.store.InsertSubmission(ctx, submission)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateInvoice) {
			return nil, domainError(http.StatusConflict, "DUPLICATE_INVOICE", "This invoice number has already been submitted", nil)
		}
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSubmission(search.SubmissionRecord{
			ID:            inserted.ID,
			SurveyID:      inserted.SurveyID,
			SurveyTitle:   survey.Title,
			CustomerName:  inserted.CustomerName,
			InvoiceNumber: inserted.InvoiceNumber,
			WorkerName:    session.UserName,
			CreatedAt:     inserted.CreatedAt.Unix(),
		})
	}

	return submissionPayload(store.SubmissionWithJoins{
		Submission:  inserted,
		WorkerName:  session.UserName,
		MallName:    session.MallName,
		SurveyTitle: survey.Title,
	}, nil), nil
}

func (s *Service) ListSubmissions(ctx context.Context, query SubmissionListQuery) (map[string]any, error) {
	filter, err := s.submissionFilter(query)
	if err != nil {
		return nil, err
	}

	items, total, err := s.store.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, submissionPayload(item, nil))
	}
	return map[string]any{
		"items": payloads,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	}, nil
}

// GetSubmissionDetail returns one submission with its answers resolved
// against the current question set. Stale answer keys fall back to the raw
// id rather than failing the whole view.
func (s *Service) GetSubmissionDetail(ctx context.Context, submissionID string) (map[string]any, error) {
	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, submission.SurveyID)
	if err != nil {
		return nil, err
	}

	resolved := answers.Resolve(submission.Answers, questionTexts(questions))
	return submissionPayload(submission, resolved), nil
}

// SubmissionReport renders one submission as a printable PDF with answers
// resolved against the current schema.
func (s *Service) SubmissionReport(ctx context.Context, submissionID string) (*export.Result, error) {
	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, submission.SurveyID)
	if err != nil {
		return nil, err
	}
	resolved := answers.Resolve(submission.Answers, questionTexts(questions))
	return export.RenderSubmissionPDF(export.NewReportData(submission, resolved))
}

// Export materializes the full filtered submission set and projects it into
// a flat table. Dynamic columns come from the survey's current schema when
// a single survey is exported; a cross-survey export carries answers only in
// the catch-all column.
func (s *Service) Export(ctx context.Context, query SubmissionListQuery) (export.Table, error) {
	query.Page = 0
	query.Limit = 0
	filter, err := s.submissionFilter(query)
	if err != nil {
		return export.Table{}, err
	}

	items, _, err := s.store.ListSubmissions(ctx, filter)
	if err != nil {
		return export.Table{}, err
	}

	var catalog *export.QuestionCatalog
	if query.SurveyID != "" {
		questions, err := s.store.ListQuestions(ctx, query.SurveyID)
		if err != nil {
			return export.Table{}, err
		}
		built := export.NewQuestionCatalog(questionTexts(questions))
		catalog = &built
	}

	return export.Project(items, catalog), nil
}

func (s *Service) submissionFilter(query SubmissionListQuery) (store.SubmissionFilter, error) {
	switch query.DateFilter {
	case "", "all", "today", "week", "month", "custom":
	default:
		return store.SubmissionFilter{}, validationError(FieldErrors{{Field: "dateFilter", Message: "Unknown date filter"}})
	}

	from, to := store.TimeRange(query.DateFilter, query.From, query.To, time.Now())
	return store.SubmissionFilter{
		SurveyID: query.SurveyID,
		From:     from,
		To:       to,
		Page:     query.Page,
		Limit:    query.Limit,
	}, nil
}

func (s *Service) Search(ctx context.Context, query search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}
	}
	return s.search.Search(query)
}

func (s *Service) Overview(ctx context.Context) (map[string]any, error) {
	surveys, submissions, workers, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"surveys":     surveys,
		"submissions": submissions,
		"workers":     workers,
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func buildQuestions(surveyID string, inputs []store.QuestionInput) []store.Question {
	questions := make([]store.Question, 0, len(inputs))
	for i, input := range inputs {
		options := input.Options
		if input.Type == store.QuestionTypeText {
			options = nil
		}
		questions = append(questions, store.Question{
			ID:         util.NewID("q"),
			SurveyID:   surveyID,
			Question:   strings.TrimSpace(input.Question),
			Type:       input.Type,
			Options:    options,
			Required:   input.Required,
			OrderIndex: i,
		})
	}
	return questions
}

func questionTexts(questions []store.Question) []answers.QuestionText {
	texts := make([]answers.QuestionText, 0, len(questions))
	for _, question := range questions {
		texts = append(texts, answers.QuestionText{ID: question.ID, Text: question.Question})
	}
	return texts
}

func surveyPayload(survey store.Survey) map[string]any {
	return map[string]any{
		"id":        survey.ID,
		"title":     survey.Title,
		"isActive":  survey.IsActive,
		"createdAt": survey.CreatedAt,
		"updatedAt": survey.UpdatedAt,
	}
}

func questionPayloads(questions []store.Question) []map[string]any {
	items := make([]map[string]any, 0, len(questions))
	for _, question := range questions {
		items = append(items, map[string]any{
			"id":         question.ID,
			"surveyId":   question.SurveyID,
			"question":   question.Question,
			"type":       question.Type,
			"options":    question.Options,
			"required":   question.Required,
			"orderIndex": question.OrderIndex,
		})
	}
	return items
}

func submissionPayload(submission store.SubmissionWithJoins, resolved []answers.Resolved) map[string]any {
	payload := map[string]any{
		"id":              submission.ID,
		"surveyId":        submission.SurveyID,
		"surveyTitle":     submission.SurveyTitle,
		"workerId":        submission.WorkerID,
		"workerName":      submission.WorkerName,
		"mallName":        submission.MallName,
		"customerName":    submission.CustomerName,
		"customerPhone":   submission.CustomerPhone,
		"cnic":            submission.CNIC,
		"invoiceNumber":   submission.InvoiceNumber,
		"invoiceImageUrl": submission.InvoiceImageURL,
		"answers":         submission.Answers,
		"createdAt":       submission.CreatedAt,
	}
	if submission.CustomerImageURL != nil {
		payload["customerImageUrl"] = *submission.CustomerImageURL
	}
	if resolved != nil {
		resolvedPayloads := make([]map[string]any, 0, len(resolved))
		for _, item := range resolved {
			resolvedPayloads = append(resolvedPayloads, map[string]any{
				"questionText": item.QuestionText,
				"displayValue": item.DisplayValue,
			})
		}
		payload["resolvedAnswers"] = resolvedPayloads
	}
	return payload
}
