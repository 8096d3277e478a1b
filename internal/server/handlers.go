package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/resume-screener/internal/llm"
	"github.com/jonathan/resume-screener/internal/screening"
	"github.com/jonathan/resume-screener/internal/types"
)

// uploadField is the multipart field carrying resume files
const uploadField = "files"

// ProcessResponse represents the response for /screening/{id}/process
type ProcessResponse struct {
	Status          string `json:"status"`
	IsReprocess     bool   `json:"is_reprocess"`
	CriteriaVersion int    `json:"criteria_version,omitempty"`
}

// LLMConfigRequest represents the body of POST /config/llm. An omitted API
// key keeps the current one when the provider does not change.
type LLMConfigRequest struct {
	Provider    string            `json:"provider"`
	Model       string            `json:"model,omitempty"`
	Models      map[string]string `json:"models,omitempty"`
	BaseURL     string            `json:"base_url,omitempty"`
	APIKey      string            `json:"api_key,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxRetries  int               `json:"max_retries,omitempty"`
}

func (r LLMConfigRequest) config() (llm.Config, error) {
	provider, err := llm.ParseProvider(r.Provider)
	if err != nil {
		return llm.Config{}, err
	}
	cfg := llm.Config{
		Provider:    provider,
		Model:       r.Model,
		BaseURL:     r.BaseURL,
		APIKey:      r.APIKey,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		MaxRetries:  r.MaxRetries,
	}
	for tier, model := range r.Models {
		cfg = cfg.WithModel(llm.ModelTier(tier), model)
	}
	return cfg, nil
}

// pathID parses a UUID path value, writing a 400 when it is malformed
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		s.errorResponse(w, http.StatusBadRequest, label+" ID is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes the request body into v, writing a 400 on failure
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// handleStartSession generates criteria and opens a draft session
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req types.StartSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	sess, err := s.service.StartSession(r.Context(), req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

// handleGetSession returns the session with its counters
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	sess, err := s.service.GetSession(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

// handleUpload accepts resume files as multipart form data
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}

	if r.ContentLength > s.maxUploadBytes {
		s.errorResponse(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Upload exceeds %d bytes", s.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadField]
	files := make([]screening.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to read %s: %v", fh.Filename, err))
			return
		}
		files = append(files, screening.UploadFile{Filename: fh.Filename, Data: data})
	}

	res, err := s.service.UploadCandidates(r.Context(), id, files)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// handleRefineCriteria applies feedback or pasted criteria
func (s *Server) handleRefineCriteria(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	var req types.RefineRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	res, err := s.service.RefineCriteria(r.Context(), id, req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleCriteriaHistory lists the refinement conversation
func (s *Server) handleCriteriaHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	entries, err := s.service.ListConversation(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleProcess starts a background scoring run
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	res, err := s.service.TriggerProcess(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if res.Status == screening.TriggerAlreadyRunning {
		status = http.StatusOK
	}
	s.jsonResponse(w, status, ProcessResponse{
		Status:          res.Status,
		IsReprocess:     res.IsReprocess,
		CriteriaVersion: res.CriteriaVersion,
	})
}

// handleResults returns the ranked candidates
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	res, err := s.service.GetResults(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

// handleCandidateDetail returns one candidate's full evaluation
func (s *Server) handleCandidateDetail(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	candidateID, ok := s.pathID(w, r, "candidate_id", "Candidate")
	if !ok {
		return
	}
	detail, err := s.service.GetCandidateDetail(r.Context(), sessionID, candidateID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

// handleCandidateHistory returns evaluations archived by earlier criteria versions
func (s *Server) handleCandidateHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.pathID(w, r, "id", "Session")
	if !ok {
		return
	}
	candidateID, ok := s.pathID(w, r, "candidate_id", "Candidate")
	if !ok {
		return
	}
	records, err := s.service.CandidateHistory(r.Context(), sessionID, candidateID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"evaluations": records})
}

// handleGetLLMConfig returns the active provider configuration with the key masked
func (s *Server) handleGetLLMConfig(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.service.ProviderConfig())
}

// handleUpdateLLMConfig validates and swaps the provider configuration
func (s *Server) handleUpdateLLMConfig(w http.ResponseWriter, r *http.Request) {
	var req LLMConfigRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	cfg, err := req.config()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := s.service.UpdateProviderConfig(cfg)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, active)
}

// handleListModels lists the models offered by the active provider
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.service.ListModels(r.Context())
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	s.jsonResponse(w, http.StatusOK, models)
}
