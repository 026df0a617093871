package aqgeval

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LLMLogger writes a transcript of every model interaction of one run
type LLMLogger struct {
	file  *os.File
	mu    sync.Mutex
	runID string
}

// NewLLMLogger creates a run log at <dir>/<run id>.log
func NewLLMLogger(dir, project string) (*LLMLogger, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runID := uuid.NewString()
	filename := filepath.Join(dir, fmt.Sprintf("%s.log", runID))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &LLMLogger{
		file:  file,
		runID: runID,
	}

	logger.Logf("=== AQG Run Log ===\n")
	logger.Logf("Run ID: %s\n", runID)
	if project != "" {
		logger.Logf("Project: %s\n", project)
	}
	logger.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	logger.Logf("===================\n\n")

	return logger, nil
}

// RunID returns the id the log file is named after
func (ll *LLMLogger) RunID() string {
	return ll.runID
}

// Path returns the log file path
func (ll *LLMLogger) Path() string {
	return ll.file.Name()
}

// Logf writes a formatted log entry with timestamp
func (ll *LLMLogger) Logf(format string, args ...interface{}) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(ll.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	ll.file.Sync()
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(purpose, backend, prompt string) {
	ll.Logf("=== LLM REQUEST (%s via %s) ===\n", purpose, backend)
	ll.Logf("Prompt:\n%s\n", prompt)
	ll.Logf("=====================\n\n")
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(purpose, response string) {
	ll.Logf("=== LLM RESPONSE (%s) ===\n", purpose)
	ll.Logf("Response:\n%s\n", response)
	ll.Logf("======================\n\n")
}

// LogLLMError logs a failed request
func (ll *LLMLogger) LogLLMError(purpose string, err error) {
	ll.Logf("=== LLM ERROR (%s) ===\n%v\n\n", purpose, err)
}

// Close closes the log file
func (ll *LLMLogger) Close() error {
	ll.Logf("=== Run Complete ===\n")
	ll.Logf("Completed: %s\n", time.Now().Format(time.RFC3339))

	ll.mu.Lock()
	defer ll.mu.Unlock()
	if ll.file == nil {
		return nil
	}
	err := ll.file.Close()
	ll.file = nil
	return err
}
