package aqgeval

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVHeader is the header row of the project export
var CSVHeader = []string{
	"segment_index",
	"question_index",
	"questions_type",
	"text_used",
	"keywords_used",
	"question",
	"answer",
	"relevance",
	"reading_comprehension",
	"question_difficulty",
	"question_clarity",
	"answer_relevancy",
	"answer_correctness",
	"context_utilisation",
	"generation_time",
}

// ExportRows flattens every question of every segment into one row each.
// Rows follow segment order, then SAQ, MCQ, BLQ, GFQ within a segment.
func (p *Project) ExportRows() ([][]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segs, err := p.allSegments()
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, seg := range segs {
		for _, t := range exportOrder {
			d := questionDispatchTable[t]
			text := seg.Text(d.source)
			keywords := strings.Join(seg.Keywords(d.keywords).Keys(), ", ")
			for j, q := range seg.Questions(t) {
				row := []string{
					strconv.Itoa(i),
					strconv.Itoa(j),
					t.String(),
					text,
					keywords,
					q.Question,
					q.Answer.String(),
				}
				for _, score := range q.Evaluation.Scores() {
					row = append(row, formatScore(score))
				}
				generation := float64(NotEvaluated)
				if q.Evaluation != nil {
					generation = q.Evaluation.GenerationTime
				}
				rows = append(rows, append(row, formatScore(generation)))
			}
		}
	}
	return rows, nil
}

// WriteCSV writes the header and every export row to w
func (p *Project) WriteCSV(w io.Writer) error {
	rows, err := p.ExportRows()
	if err != nil {
		return err
	}
	return writeCSV(w, rows)
}

// ExportCSV writes the project table to CSVPath and returns the row count.
// The previous export is left untouched when the rows cannot be built.
func (p *Project) ExportCSV() (n int, err error) {
	defer p.metrics.ObserveStage("export", time.Now())

	rows, err := p.ExportRows()
	if err != nil {
		return 0, err
	}

	f, err := os.Create(p.CSVPath())
	if err != nil {
		return 0, fmt.Errorf("failed to create csv file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			n, err = 0, fmt.Errorf("failed to close csv file: %w", cerr)
		}
	}()

	if err := writeCSV(f, rows); err != nil {
		return 0, err
	}
	p.log.Info().Str("path", p.CSVPath()).Int("rows", len(rows)).Msg("exported project")
	return len(rows), nil
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
