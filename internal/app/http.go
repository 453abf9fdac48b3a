package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsurvey/api/internal/auth"
	"fieldsurvey/api/internal/export"
	"fieldsurvey/api/internal/search"
	"fieldsurvey/api/internal/upload"
)

type HTTPServer struct {
	service    *Service
	uploader   upload.Uploader
	corsOrigin string
}

func NewHTTPServer(service *Service, uploader upload.Uploader, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, uploader: uploader, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
			"mallName":      session.MallName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below requires a session.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "surveys":
		s.handleSurveys(w, r, session, parts)
		return
	case "submissions":
		s.handleSubmissions(w, r, session, parts)
		return
	case "export":
		s.handleExport(w, r, session, parts)
		return
	case "uploads":
		s.handleUpload(w, r, session, parts)
		return
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			if !s.requireAdmin(w, session) {
				return
			}
			query := search.Query{
				Text:     strings.TrimSpace(r.URL.Query().Get("q")),
				SurveyID: strings.TrimSpace(r.URL.Query().Get("surveyId")),
				Limit:    queryInt(r, "limit", 20),
				Offset:   queryInt(r, "offset", 0),
			}
			writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query))
			return
		}
	case "stats":
		if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "overview" {
			if !s.requireAdmin(w, session) {
				return
			}
			payload, err := s.service.Overview(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSurveys(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// GET /api/surveys
	if r.Method == http.MethodGet && len(parts) == 2 {
		// Workers only ever see surveys open for submission.
		activeOnly := session.Role != RoleAdmin || r.URL.Query().Get("active") == "true"
		items, err := s.service.ListSurveys(r.Context(), activeOnly)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	// POST /api/surveys
	if r.Method == http.MethodPost && len(parts) == 2 {
		if !s.requireAdmin(w, session) {
			return
		}
		var body CreateSurveyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateSurvey(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	surveyID := parts[2]

	// GET /api/surveys/{id}
	if r.Method == http.MethodGet && len(parts) == 3 {
		if !s.requireAdmin(w, session) {
			return
		}
		payload, err := s.service.GetSurveyDetail(r.Context(), surveyID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// GET /api/surveys/{id}/questions — the worker's submission form schema
	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "questions" {
		questions, err := s.service.ListQuestions(r.Context(), surveyID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": questions})
		return
	}

	// POST /api/surveys/{id}/active
	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "active" {
		if !s.requireAdmin(w, session) {
			return
		}
		var body struct {
			Active bool `json:"active"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SetSurveyActive(r.Context(), surveyID, body.Active)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// PUT /api/surveys/{id}/questions
	if r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "questions" {
		if !s.requireAdmin(w, session) {
			return
		}
		var body ReplaceQuestionsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		questions, err := s.service.ReplaceQuestions(r.Context(), surveyID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": questions})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSubmissions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// POST /api/submissions
	if r.Method == http.MethodPost && len(parts) == 2 {
		var body SubmissionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SubmitSubmission(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	// GET /api/submissions
	if r.Method == http.MethodGet && len(parts) == 2 {
		if !s.requireAdmin(w, session) {
			return
		}
		query, ok := s.listQueryFromRequest(w, r)
		if !ok {
			return
		}
		payload, err := s.service.ListSubmissions(r.Context(), query)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	submissionID := parts[2]

	// GET /api/submissions/{id}
	if r.Method == http.MethodGet && len(parts) == 3 {
		if !s.requireAdmin(w, session) {
			return
		}
		payload, err := s.service.GetSubmissionDetail(r.Context(), submissionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// GET /api/submissions/{id}/report.pdf
	if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "report.pdf" {
		if !s.requireAdmin(w, session) {
			return
		}
		result, err := s.service.SubmissionReport(r.Context(), submissionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeBinary(w, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// GET /api/export/submissions.xlsx
	if r.Method != http.MethodGet || len(parts) != 3 || parts[2] != "submissions.xlsx" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.requireAdmin(w, session) {
		return
	}

	query, ok := s.listQueryFromRequest(w, r)
	if !ok {
		return
	}
	table, err := s.service.Export(r.Context(), query)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	result, err := export.RenderXLSX(table)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeBinary(w, result)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// POST /api/uploads/{kind}
	if r.Method != http.MethodPost || len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind := parts[2]
	if kind != "invoice" && kind != "customer" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if s.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Upload storage not configured", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxImageSize+4096)
	if err := r.ParseMultipartForm(upload.MaxImageSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Image must be 5MB or smaller", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	url, err := s.uploader.UploadImage(r.Context(), kind, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		if errors.Is(err, upload.ErrUnsupportedType) {
			writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "Only JPEG, PNG, and WebP images are accepted", nil)
			return
		}
		log.Printf("upload: %s image failed: %v", kind, err)
		writeError(w, http.StatusInternalServerError, "UPLOAD_FAILED", "Upload failed", nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"url": url})
}

func (s *HTTPServer) listQueryFromRequest(w http.ResponseWriter, r *http.Request) (SubmissionListQuery, bool) {
	query := SubmissionListQuery{
		SurveyID:   strings.TrimSpace(r.URL.Query().Get("surveyId")),
		DateFilter: strings.TrimSpace(r.URL.Query().Get("dateFilter")),
		Page:       queryInt(r, "page", 1),
		Limit:      queryInt(r, "limit", 50),
	}

	for _, bound := range []struct {
		param  string
		target *time.Time
	}{
		{"from", &query.From},
		{"to", &query.To},
	} {
		raw := strings.TrimSpace(r.URL.Query().Get(bound.param))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("%s must be YYYY-MM-DD", bound.param), nil)
			return SubmissionListQuery{}, false
		}
		*bound.target = parsed
	}
	// An inclusive day bound: "to" covers the whole named day.
	if !query.To.IsZero() {
		query.To = query.To.Add(24*time.Hour - time.Nanosecond)
	}

	return query, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) requireAdmin(w http.ResponseWriter, session Session) bool {
	if session.Role != RoleAdmin {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return false
	}
	return true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBinary(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"mallName":     session.MallName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
