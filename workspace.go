package aqgeval

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	segmentsDirName        = "Segments"
	keywordsHistoryDirName = "Keywords-History"
	settingsFileName       = "settings.json"
	transcriptFileName     = "transcript.txt"
)

// Workspace is the data directory holding every project folder
type Workspace struct {
	dataDir string
	tools   *Toolkit
	db      *DB
	metrics *Metrics
	log     zerolog.Logger

	closers []io.Closer
}

// NewWorkspace opens a workspace over dataDir. Segment records are kept in
// JSON files unless db is non-nil.
func NewWorkspace(dataDir string, tools *Toolkit, db *DB, metrics *Metrics, logger zerolog.Logger) *Workspace {
	return &Workspace{
		dataDir: dataDir,
		tools:   tools,
		db:      db,
		metrics: metrics,
		log:     componentLogger(logger, "workspace").With().Str("data_dir", dataDir).Logger(),
	}
}

// NewWorkspaceFromConfig builds the gateway, guidance and store described by
// cfg. The returned workspace owns the LLM run log and database handle.
func NewWorkspaceFromConfig(cfg *Config, metrics *Metrics, logger zerolog.Logger) (*Workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	guidance, err := LoadGuidance(cfg.GuidanceDir)
	if err != nil {
		return nil, err
	}
	llmLog, err := NewLLMLogger(cfg.LLMLogDir, "")
	if err != nil {
		return nil, err
	}
	gateway := Instrument(NewOpenAIGateway(cfg.GatewayOptions(), logger), llmLog, metrics, logger)

	var db *DB
	if cfg.Store == StoreSQLite {
		db, err = OpenDB(cfg.SQLitePath, logger)
		if err != nil {
			llmLog.Close()
			return nil, err
		}
		if err := db.CreateTables(); err != nil {
			db.CloseDB()
			llmLog.Close()
			return nil, err
		}
	}

	ws := NewWorkspace(cfg.DataDir, NewToolkit(gateway, guidance, metrics, logger), db, metrics, logger)
	ws.closers = append(ws.closers, llmLog)
	logger.Info().Str("run_id", llmLog.RunID()).Str("llm_log", llmLog.Path()).Str("store", cfg.Store).Msg("workspace ready")
	return ws, nil
}

// Close releases the resources opened by NewWorkspaceFromConfig
func (w *Workspace) Close() error {
	var errs []error
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.db != nil {
		if err := w.db.CloseDB(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DataDir returns the workspace root
func (w *Workspace) DataDir() string { return w.dataDir }

func validProjectName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid project name %q", name)
	}
	return nil
}

func (w *Workspace) project(name, transcript string, settings ProjectSettings) *Project {
	dir := filepath.Join(w.dataDir, name)
	var store SegmentStore
	if w.db != nil {
		store = w.db.Segments(name, w.metrics)
	} else {
		store = NewFileSegmentStore(filepath.Join(dir, segmentsDirName), w.log, w.metrics)
	}
	return &Project{
		name:       name,
		dir:        dir,
		transcript: transcript,
		settings:   settings,
		store:      store,
		tools:      w.tools,
		metrics:    w.metrics,
		log:        w.log.With().Str("project", name).Logger(),
	}
}

// Create initialises a new project, or re-initialises an existing one with
// a new transcript and settings.
func (w *Workspace) Create(name, transcript string, settings ProjectSettings) (*Project, error) {
	if err := validProjectName(name); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataDirMissing, err)
	}
	p := w.project(name, transcript, settings)
	if err := p.Initialise(); err != nil {
		return nil, err
	}
	return p, nil
}

// Exists reports whether name has a project folder and a ready store
func (w *Workspace) Exists(name string) bool {
	if validProjectName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(w.dataDir, name))
	if err != nil || !info.IsDir() {
		return false
	}
	return w.project(name, "", DefaultSettings()).IsValid()
}

// Open loads an existing project with its saved transcript and settings
func (w *Workspace) Open(name string) (*Project, error) {
	if !w.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	dir := filepath.Join(w.dataDir, name)
	transcript, err := os.ReadFile(filepath.Join(dir, transcriptFileName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	settings := LoadSettings(filepath.Join(dir, settingsFileName))
	return w.project(name, string(transcript), settings), nil
}

// List returns the names of every project in the workspace
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() && w.Exists(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
