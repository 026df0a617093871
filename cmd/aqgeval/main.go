package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"aqgeval"

	"github.com/rs/zerolog/log"
)

const usage = `usage: aqgeval [global flags] <command> [flags]

commands:
  create          create or re-initialise a project from a transcript file
  summaries       summarise every segment
  keywords        extract transcript or summary keywords
  questions       generate questions of one type
  evaluate        evaluate generated questions
  export          write the project CSV
  show            print a segment record or the project settings
  list            list projects
  add-keyword     add a keyword to a segment
  remove-keyword  remove a keyword from a segment
  settings        change the question or keyword count
`

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
		pretty     = flag.Bool("pretty", false, "Human readable log output")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := aqgeval.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logCfg := cfg.LogConfig()
	logCfg.Pretty = logCfg.Pretty || *pretty
	logger := aqgeval.NewLogger(logCfg)
	if *verbose {
		aqgeval.SetVerbose(true)
	}

	ws, err := aqgeval.NewWorkspaceFromConfig(cfg, aqgeval.NewMetrics(), logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open workspace")
	}
	defer ws.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, ws, cmd, args); err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		ws.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, ws *aqgeval.Workspace, cmd string, args []string) error {
	switch cmd {
	case "create":
		return runCreate(ws, args)
	case "summaries":
		return withProject(ws, cmd, args, nil, func(p *aqgeval.Project) error {
			return p.GenerateSegmentSummaries(ctx)
		})
	case "keywords":
		return runKeywords(ctx, ws, args)
	case "questions":
		return runQuestions(ctx, ws, args)
	case "evaluate":
		return runEvaluate(ctx, ws, args)
	case "export":
		return withProject(ws, cmd, args, nil, func(p *aqgeval.Project) error {
			n, err := p.ExportCSV()
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d rows to %s\n", n, p.CSVPath())
			return nil
		})
	case "show":
		return runShow(ws, args)
	case "list":
		names, err := ws.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	case "add-keyword", "remove-keyword":
		return runEditKeyword(ws, cmd, args)
	case "settings":
		return runSettings(ws, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// withProject parses the shared -project flag, opens the project and calls fn
func withProject(ws *aqgeval.Workspace, name string, args []string, define func(*flag.FlagSet), fn func(*aqgeval.Project) error) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	project := fs.String("project", "", "Project name (required)")
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return fmt.Errorf("%s: -project is required", name)
	}
	p, err := ws.Open(*project)
	if err != nil {
		return err
	}
	return fn(p)
}

func runCreate(ws *aqgeval.Workspace, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var (
		name           = fs.String("project", "", "Project name (required)")
		transcriptFile = fs.String("transcript", "", "Transcript text file (required)")
		settingsFile   = fs.String("settings", "", "settings.json to start from")
		backend        = fs.String("llm", "", "Backend name, one of: "+strings.Join(aqgeval.BackendNames(), ", "))
		segmentSize    = fs.Int("segment-size", 0, "Transcript segment size in characters")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *transcriptFile == "" {
		return fmt.Errorf("create: -project and -transcript are required")
	}

	transcript, err := os.ReadFile(*transcriptFile)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	settings := aqgeval.DefaultSettings()
	if *settingsFile != "" {
		settings = aqgeval.LoadSettings(*settingsFile)
	}
	if *backend != "" {
		settings.LLMName = *backend
	}
	if *segmentSize > 0 {
		settings.TranscriptSegmentSize = *segmentSize
	}

	p, err := ws.Create(*name, string(transcript), settings)
	if err != nil {
		return err
	}
	n, err := p.NumberOfSegments()
	if err != nil {
		return err
	}
	fmt.Printf("Project %s ready with %d segments in %s\n", p.Name(), n, p.Dir())
	return nil
}

func runKeywords(ctx context.Context, ws *aqgeval.Workspace, args []string) error {
	var source *string
	return withProject(ws, "keywords", args, func(fs *flag.FlagSet) {
		source = fs.String("source", "transcript", "Text to extract from: transcript or summary")
	}, func(p *aqgeval.Project) error {
		switch *source {
		case "transcript":
			return p.GenerateTranscriptKeywords(ctx)
		case "summary":
			return p.GenerateSummaryKeywords(ctx)
		}
		return fmt.Errorf("keywords: unknown source %q", *source)
	})
}

func runQuestions(ctx context.Context, ws *aqgeval.Workspace, args []string) error {
	var (
		typeName *string
		segment  *int
	)
	return withProject(ws, "questions", args, func(fs *flag.FlagSet) {
		typeName = fs.String("type", "", "Question type: saqs, mcqs, gfqs or blqs (required)")
		segment = fs.Int("segment", -1, "Only this segment index")
	}, func(p *aqgeval.Project) error {
		t, err := aqgeval.ParseQuestionType(*typeName)
		if err != nil {
			return err
		}
		if *segment >= 0 {
			qs, err := p.GenerateSegmentQuestionsOfType(ctx, *segment, t)
			if err != nil {
				return err
			}
			return printJSON(qs)
		}
		all, err := p.GenerateQuestionsOfType(ctx, t)
		if err != nil {
			return err
		}
		total := 0
		for _, qs := range all {
			total += len(qs)
		}
		fmt.Printf("Generated %d %s across %d segments\n", total, t, len(all))
		return nil
	})
}

func runEvaluate(ctx context.Context, ws *aqgeval.Workspace, args []string) error {
	var (
		typeNames *string
		segment   *int
	)
	return withProject(ws, "evaluate", args, func(fs *flag.FlagSet) {
		typeNames = fs.String("types", "", "Comma separated question types (default: all)")
		segment = fs.Int("segment", -1, "Only this segment index")
	}, func(p *aqgeval.Project) error {
		var types []aqgeval.QuestionType
		for _, name := range strings.Split(*typeNames, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			t, err := aqgeval.ParseQuestionType(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			types = append(types, t)
		}
		if *segment >= 0 {
			return p.EvaluateSegment(ctx, *segment, types...)
		}
		return p.EvaluateAllSegments(ctx, types...)
	})
}

func runShow(ws *aqgeval.Workspace, args []string) error {
	var segment *int
	return withProject(ws, "show", args, func(fs *flag.FlagSet) {
		segment = fs.Int("segment", -1, "Segment index (default: show settings)")
	}, func(p *aqgeval.Project) error {
		if *segment < 0 {
			return printJSON(p.Settings())
		}
		seg, err := p.Segment(*segment)
		if err != nil {
			return err
		}
		return printJSON(seg)
	})
}

func runEditKeyword(ws *aqgeval.Workspace, cmd string, args []string) error {
	var (
		segment  *int
		kindName *string
		word     *string
	)
	return withProject(ws, cmd, args, func(fs *flag.FlagSet) {
		segment = fs.Int("segment", 0, "Segment index")
		kindName = fs.String("keywords", "saqs_keywords", "Keyword set: saqs_keywords, mcqs_keywords, gfqs_keywords or blqs_keywords")
		word = fs.String("word", "", "Keyword (required)")
	}, func(p *aqgeval.Project) error {
		if *word == "" {
			return fmt.Errorf("%s: -word is required", cmd)
		}
		kt, err := aqgeval.ParseKeywordType(*kindName)
		if err != nil {
			return err
		}
		var outcome aqgeval.KeywordOutcome
		if cmd == "add-keyword" {
			outcome, err = p.AddKeyword(*segment, kt, *word)
		} else {
			outcome, err = p.RemoveKeyword(*segment, kt, *word)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%q %s\n", *word, outcome)
		return nil
	})
}

func runSettings(ws *aqgeval.Workspace, args []string) error {
	var questions, keywords *string
	return withProject(ws, "settings", args, func(fs *flag.FlagSet) {
		questions = fs.String("questions", "", "Number of questions per segment and type")
		keywords = fs.String("keywords", "", "Number of transcript keywords")
	}, func(p *aqgeval.Project) error {
		if *questions != "" {
			n, err := strconv.Atoi(*questions)
			if err != nil {
				return fmt.Errorf("invalid -questions: %w", err)
			}
			if err := p.SetNumberOfQuestions(n); err != nil {
				return err
			}
		}
		if *keywords != "" {
			n, err := strconv.Atoi(*keywords)
			if err != nil {
				return fmt.Errorf("invalid -keywords: %w", err)
			}
			if err := p.SetNumberOfKeywords(n); err != nil {
				return err
			}
		}
		return printJSON(p.Settings())
	})
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
