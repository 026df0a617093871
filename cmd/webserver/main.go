package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"aqgeval"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

const sessionName = "aqg-session"

type Server struct {
	ws      *aqgeval.Workspace
	store   *sessions.CookieStore
	home    *template.Template
	log     zerolog.Logger
	jobs    *jobTracker
	baseCtx context.Context

	// open projects are shared so their lock covers every request
	mu       sync.Mutex
	projects map[string]*aqgeval.Project
}

// envelope is the body of every API response
type envelope struct {
	Output any       `json:"output"`
	Error  *apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		addr       = flag.String("addr", "", "Listen address (default :$PORT or :8180)")
	)
	flag.Parse()

	cfg, err := aqgeval.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := aqgeval.NewLogger(cfg.LogConfig())

	metrics := aqgeval.NewMetrics()
	ws, err := aqgeval.NewWorkspaceFromConfig(cfg, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open workspace")
	}
	defer ws.Close()

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn().Msg("SESSION_SECRET not set, sessions will not survive a restart")
	}

	server := &Server{
		ws:       ws,
		store:    sessions.NewCookieStore([]byte(secret)),
		home:     template.Must(template.ParseFS(templateFS, "templates/home.html")),
		log:      logger.With().Str("component", "webserver").Logger(),
		jobs:     newJobTracker(),
		baseCtx:  context.Background(),
		projects: make(map[string]*aqgeval.Project),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", server.handleHome)
	mux.HandleFunc("/api/projects", server.handleProjects)
	mux.HandleFunc("/api/projects/", server.handleProject)
	mux.HandleFunc("/api/session", server.handleSession)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	listen := *addr
	if listen == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8180"
		}
		listen = ":" + port
	}

	server.log.Info().Str("addr", listen).Msg("starting server")
	if err := http.ListenAndServe(listen, mux); err != nil {
		server.log.Fatal().Err(err).Msg("server stopped")
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	names, err := s.ws.List()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list projects")
		http.Error(w, "Failed to list projects", http.StatusInternalServerError)
		return
	}
	session, _ := s.store.Get(r, sessionName)
	active, _ := session.Values["project"].(string)

	err = s.home.Execute(w, map[string]any{
		"Projects": names,
		"Active":   active,
		"Jobs":     s.jobs.all(),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("template error in home")
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		names, err := s.ws.List()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOutput(w, http.StatusOK, names)

	case http.MethodPost:
		var req struct {
			Name       string                   `json:"name"`
			Transcript string                   `json:"transcript"`
			Settings   *aqgeval.ProjectSettings `json:"settings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "bad_request", "Failed to parse request body")
			return
		}
		settings := aqgeval.DefaultSettings()
		if req.Settings != nil {
			settings = *req.Settings
		}
		// Creating holds the project like a stage so no stage can start on
		// the handle being replaced.
		job, ok := s.jobs.start(req.Name, "create")
		if !ok {
			s.writeFailure(w, http.StatusConflict, "busy", "A stage is running for this project")
			return
		}
		p, err := s.ws.Create(req.Name, req.Transcript, settings)
		if err != nil {
			s.jobs.abandon(job)
			s.writeError(w, err)
			return
		}
		s.mu.Lock()
		s.projects[p.Name()] = p
		s.mu.Unlock()
		s.jobs.finish(job, nil)
		s.writeOutput(w, http.StatusCreated, s.describe(p))

	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// handleProject routes /api/projects/{name}[/...]
func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeFailure(w, http.StatusNotFound, "not_found", "Project name is required")
		return
	}

	name := parts[0]
	p, err := s.project(name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		s.writeOutput(w, http.StatusOK, s.describe(p))
		return
	}

	switch parts[1] {
	case "segments":
		s.handleSegment(w, r, p, parts[2:])
	case "settings":
		s.handleSettings(w, r, p)
	case "export":
		s.handleExport(w, r, p)
	case "jobs":
		s.writeOutput(w, http.StatusOK, s.jobs.forProject(name))
	case "summaries", "transcript-keywords", "summary-keywords", "questions", "evaluate":
		s.handleStage(w, r, p, parts[1])
	default:
		s.log.Debug().Str("path", r.URL.Path).Msg("unknown project route")
		s.writeFailure(w, http.StatusNotFound, "not_found", "Unknown route")
	}
}

// project returns the shared handle of an existing project
func (s *Server) project(name string) (*aqgeval.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ws.Exists(name) {
		delete(s.projects, name)
		return nil, fmt.Errorf("%w: %s", aqgeval.ErrProjectNotFound, name)
	}
	if p, ok := s.projects[name]; ok {
		return p, nil
	}
	p, err := s.ws.Open(name)
	if err != nil {
		return nil, err
	}
	s.projects[name] = p
	return p, nil
}

func (s *Server) describe(p *aqgeval.Project) map[string]any {
	n, err := p.NumberOfSegments()
	if err != nil {
		s.log.Warn().Err(err).Str("project", p.Name()).Msg("failed to count segments")
	}
	return map[string]any{
		"name":     p.Name(),
		"segments": n,
		"settings": p.Settings(),
	}
}

// handleSegment serves /segments/{i} and /segments/{i}/keywords
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request, p *aqgeval.Project, rest []string) {
	if len(rest) == 0 {
		s.writeFailure(w, http.StatusNotFound, "not_found", "Segment index is required")
		return
	}
	index, err := strconv.Atoi(rest[0])
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, "bad_request", "Segment index must be a number")
		return
	}

	if len(rest) == 1 {
		seg, err := p.Segment(index)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOutput(w, http.StatusOK, seg)
		return
	}
	if rest[1] != "keywords" {
		s.writeFailure(w, http.StatusNotFound, "not_found", "Unknown route")
		return
	}

	var req struct {
		Keywords string `json:"keywords"`
		Word     string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Word == "" {
		s.writeFailure(w, http.StatusBadRequest, "bad_request", "Body must carry keywords and word")
		return
	}
	kt, err := aqgeval.ParseKeywordType(req.Keywords)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var outcome aqgeval.KeywordOutcome
	switch r.Method {
	case http.MethodPost:
		outcome, err = p.AddKeyword(index, kt, req.Word)
	case http.MethodDelete:
		outcome, err = p.RemoveKeyword(index, kt, req.Word)
	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOutput(w, http.StatusOK, map[string]string{"word": req.Word, "outcome": string(outcome)})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, p *aqgeval.Project) {
	switch r.Method {
	case http.MethodGet:
		s.writeOutput(w, http.StatusOK, p.Settings())
	case http.MethodPatch, http.MethodPut:
		var req struct {
			NumberOfQuestions *int `json:"number_of_questions"`
			NumberOfKeywords  *int `json:"number_of_keywords"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "bad_request", "Failed to parse request body")
			return
		}
		if req.NumberOfQuestions != nil {
			if err := p.SetNumberOfQuestions(*req.NumberOfQuestions); err != nil {
				s.writeError(w, err)
				return
			}
		}
		if req.NumberOfKeywords != nil {
			if err := p.SetNumberOfKeywords(*req.NumberOfKeywords); err != nil {
				s.writeError(w, err)
				return
			}
		}
		s.writeOutput(w, http.StatusOK, p.Settings())
	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, p *aqgeval.Project) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+p.Name()+".csv\"")
		if err := p.WriteCSV(w); err != nil {
			s.log.Error().Err(err).Str("project", p.Name()).Msg("failed to stream csv")
		}
	case http.MethodPost:
		n, err := p.ExportCSV()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeOutput(w, http.StatusOK, map[string]any{"path": p.CSVPath(), "rows": n})
	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

// handleStage starts a model-backed stage in the background and returns 202
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request, p *aqgeval.Project, stage string) {
	if r.Method != http.MethodPost {
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}
	q := r.URL.Query()
	segment := -1
	if v := q.Get("segment"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeFailure(w, http.StatusBadRequest, "bad_request", "segment must be a number")
			return
		}
		segment = n
	}

	var run func(ctx context.Context, p *aqgeval.Project) error
	switch stage {
	case "summaries":
		run = func(ctx context.Context, p *aqgeval.Project) error { return p.GenerateSegmentSummaries(ctx) }
	case "transcript-keywords":
		run = func(ctx context.Context, p *aqgeval.Project) error { return p.GenerateTranscriptKeywords(ctx) }
	case "summary-keywords":
		run = func(ctx context.Context, p *aqgeval.Project) error { return p.GenerateSummaryKeywords(ctx) }
	case "questions":
		t, err := aqgeval.ParseQuestionType(q.Get("type"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		run = func(ctx context.Context, p *aqgeval.Project) error {
			if segment >= 0 {
				_, err := p.GenerateSegmentQuestionsOfType(ctx, segment, t)
				return err
			}
			_, err := p.GenerateQuestionsOfType(ctx, t)
			return err
		}
	case "evaluate":
		var types []aqgeval.QuestionType
		for _, name := range strings.Split(q.Get("types"), ",") {
			if name == "" {
				continue
			}
			t, err := aqgeval.ParseQuestionType(name)
			if err != nil {
				s.writeError(w, err)
				return
			}
			types = append(types, t)
		}
		run = func(ctx context.Context, p *aqgeval.Project) error {
			if segment >= 0 {
				return p.EvaluateSegment(ctx, segment, types...)
			}
			return p.EvaluateAllSegments(ctx, types...)
		}
	}

	job, ok := s.jobs.start(p.Name(), stage)
	if !ok {
		s.writeFailure(w, http.StatusConflict, "busy", "A stage is already running for this project")
		return
	}
	// the handle may have been replaced by a create since routing
	p, err := s.project(p.Name())
	if err != nil {
		s.jobs.abandon(job)
		s.writeError(w, err)
		return
	}
	go func() {
		err := run(s.baseCtx, p)
		s.jobs.finish(job, err)
		if err != nil {
			s.log.Error().Err(err).Str("project", p.Name()).Str("stage", stage).Msg("stage failed")
		}
	}()
	s.writeOutput(w, http.StatusAccepted, job)
}

// handleSession reads or sets the active project of the browser session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, sessionName)
	switch r.Method {
	case http.MethodGet:
		active, _ := session.Values["project"].(string)
		s.writeOutput(w, http.StatusOK, map[string]string{"project": active})
	case http.MethodPost:
		var req struct {
			Project string `json:"project"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeFailure(w, http.StatusBadRequest, "bad_request", "Failed to parse request body")
			return
		}
		if !s.ws.Exists(req.Project) {
			s.writeError(w, aqgeval.ErrProjectNotFound)
			return
		}
		session.Values["project"] = req.Project
		if err := session.Save(r, w); err != nil {
			s.log.Error().Err(err).Msg("session save error")
		}
		s.writeOutput(w, http.StatusOK, map[string]string{"project": req.Project})
	default:
		s.writeFailure(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	}
}

func (s *Server) writeOutput(w http.ResponseWriter, status int, output any) {
	s.writeJSON(w, status, envelope{Output: output})
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

// writeError maps library errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, aqgeval.ErrProjectNotFound):
		status, code = http.StatusNotFound, "project_not_found"
	case errors.Is(err, aqgeval.ErrSegmentIndex), errors.Is(err, aqgeval.ErrSegmentNotFound):
		status, code = http.StatusNotFound, "segment_not_found"
	case errors.Is(err, aqgeval.ErrInvalidSettings),
		errors.Is(err, aqgeval.ErrEmptyTranscript),
		errors.Is(err, aqgeval.ErrUnknownQuestionType),
		errors.Is(err, aqgeval.ErrUnknownKeywordType):
		status, code = http.StatusBadRequest, "invalid_request"
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeFailure(w, status, code, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

// Job is one background stage run
type Job struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// jobTracker allows one running stage per project
type jobTracker struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	running map[string]string
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*Job), running: make(map[string]string)}
}

func (t *jobTracker) start(project, stage string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.running[project]; busy {
		return Job{}, false
	}
	job := &Job{
		ID:        uuid.NewString(),
		Project:   project,
		Stage:     stage,
		Status:    "running",
		StartedAt: time.Now(),
	}
	t.jobs[job.ID] = job
	t.running[project] = job.ID
	return *job, true
}

func (t *jobTracker) finish(job Job, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[job.ID]
	if !ok {
		return
	}
	now := time.Now()
	j.FinishedAt = &now
	j.Status = "completed"
	if err != nil {
		j.Status = "failed"
		j.Error = err.Error()
	}
	delete(t.running, job.Project)
}

// abandon forgets a job that never ran
func (t *jobTracker) abandon(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, job.ID)
	if t.running[job.Project] == job.ID {
		delete(t.running, job.Project)
	}
}

func (t *jobTracker) forProject(project string) []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []Job{}
	for _, j := range t.jobs {
		if j.Project == project {
			out = append(out, *j)
		}
	}
	sortJobs(out)
	return out
}

func (t *jobTracker) all() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	sortJobs(out)
	return out
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
}
