package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aqgeval"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		ws:       aqgeval.NewWorkspace(t.TempDir(), nil, nil, nil, zerolog.Nop()),
		log:      zerolog.Nop(),
		jobs:     newJobTracker(),
		baseCtx:  context.Background(),
		projects: make(map[string]*aqgeval.Project),
	}
}

func createRequest(name string) *http.Request {
	body := `{"name": "` + name + `", "transcript": "one two three four five"}`
	return httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
}

func TestCreateRefusedWhileStageRuns(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleProjects(rec, createRequest("demo"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first create status = %d, body %s", rec.Code, rec.Body)
	}
	first, err := s.project("demo")
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	job, ok := s.jobs.start("demo", "summaries")
	if !ok {
		t.Fatal("stage should start on an idle project")
	}
	rec = httptest.NewRecorder()
	s.handleProjects(rec, createRequest("demo"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("create during stage status = %d, want 409", rec.Code)
	}
	if p, _ := s.project("demo"); p != first {
		t.Error("create during a stage replaced the shared handle")
	}

	s.jobs.finish(job, nil)
	rec = httptest.NewRecorder()
	s.handleProjects(rec, createRequest("demo"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create after stage status = %d, body %s", rec.Code, rec.Body)
	}
	if p, _ := s.project("demo"); p == first {
		t.Error("re-create should replace the shared handle")
	}
}

func TestCreateHoldsProjectAgainstStages(t *testing.T) {
	jobs := newJobTracker()
	create, ok := jobs.start("demo", "create")
	if !ok {
		t.Fatal("create should reserve an idle project")
	}
	if _, ok := jobs.start("demo", "questions"); ok {
		t.Error("stage started while the project was being created")
	}
	if _, ok := jobs.start("other", "questions"); !ok {
		t.Error("reservation should not block other projects")
	}

	jobs.finish(create, nil)
	if _, ok := jobs.start("demo", "questions"); !ok {
		t.Error("stage should start once creation finished")
	}
}

func TestFailedCreateLeavesNoJob(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleProjects(rec, createRequest("a/b"))
	if rec.Code == http.StatusCreated {
		t.Fatal("invalid name should not be created")
	}
	if jobs := s.jobs.all(); len(jobs) != 0 {
		t.Errorf("jobs = %+v, want none", jobs)
	}
	if _, ok := s.jobs.start("a/b", "summaries"); !ok {
		t.Error("failed create left the project reserved")
	}
}
