package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"aqgeval"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// tools exposes the project operations over MCP on stdio
type tools struct {
	ws  *aqgeval.Workspace
	log zerolog.Logger
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	cfg, err := aqgeval.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logCfg := cfg.LogConfig()
	logCfg.Output = os.Stderr // stdout carries the protocol
	logger := aqgeval.NewLogger(logCfg)

	ws, err := aqgeval.NewWorkspaceFromConfig(cfg, aqgeval.NewMetrics(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open workspace")
	}
	defer ws.Close()

	t := &tools{ws: ws, log: logger.With().Str("component", "mcp").Logger()}
	s := server.NewMCPServer("aqgeval", "1.0.0", server.WithToolCapabilities(false))
	t.register(s)

	if err := server.ServeStdio(s); err != nil {
		logger.Fatal().Err(err).Msg("mcp server stopped")
	}
}

func projectArg() mcp.ToolOption {
	return mcp.WithString("project", mcp.Required(), mcp.Description("Project name"))
}

func (t *tools) register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List the projects of the workspace"),
	), t.listProjects)

	s.AddTool(mcp.NewTool("create_project",
		mcp.WithDescription("Create or re-initialise a project from a transcript"),
		projectArg(),
		mcp.WithString("transcript", mcp.Required(), mcp.Description("Transcript text")),
		mcp.WithString("llm", mcp.Description("Backend name, one of: "+strings.Join(aqgeval.BackendNames(), ", "))),
	), t.createProject)

	s.AddTool(mcp.NewTool("generate_summaries",
		mcp.WithDescription("Summarise every segment of a project"),
		projectArg(),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		return "summaries generated", p.GenerateSegmentSummaries(ctx)
	}))

	s.AddTool(mcp.NewTool("generate_keywords",
		mcp.WithDescription("Extract keywords from every segment transcript or summary"),
		projectArg(),
		mcp.WithString("source", mcp.Description("transcript or summary"), mcp.DefaultString("transcript")),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		switch source := req.GetString("source", "transcript"); source {
		case "transcript":
			return "transcript keywords generated", p.GenerateTranscriptKeywords(ctx)
		case "summary":
			return "summary keywords generated", p.GenerateSummaryKeywords(ctx)
		default:
			return nil, fmt.Errorf("unknown source %q", source)
		}
	}))

	s.AddTool(mcp.NewTool("generate_questions",
		mcp.WithDescription("Generate questions of one type for every segment or a single one"),
		projectArg(),
		mcp.WithString("type", mcp.Required(), mcp.Description("saqs, mcqs, gfqs or blqs")),
		mcp.WithNumber("segment", mcp.Description("Segment index, all segments when omitted")),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		typeName, err := req.RequireString("type")
		if err != nil {
			return nil, err
		}
		qt, err := aqgeval.ParseQuestionType(typeName)
		if err != nil {
			return nil, err
		}
		if segment := req.GetInt("segment", -1); segment >= 0 {
			return p.GenerateSegmentQuestionsOfType(ctx, segment, qt)
		}
		return p.GenerateQuestionsOfType(ctx, qt)
	}))

	s.AddTool(mcp.NewTool("evaluate_questions",
		mcp.WithDescription("Score generated questions with the seven evaluation metrics"),
		projectArg(),
		mcp.WithString("types", mcp.Description("Comma separated question types, all when omitted")),
		mcp.WithNumber("segment", mcp.Description("Segment index, all segments when omitted")),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		var types []aqgeval.QuestionType
		for _, name := range strings.Split(req.GetString("types", ""), ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			qt, err := aqgeval.ParseQuestionType(name)
			if err != nil {
				return nil, err
			}
			types = append(types, qt)
		}
		if segment := req.GetInt("segment", -1); segment >= 0 {
			return "segment evaluated", p.EvaluateSegment(ctx, segment, types...)
		}
		return "project evaluated", p.EvaluateAllSegments(ctx, types...)
	}))

	s.AddTool(mcp.NewTool("get_segment",
		mcp.WithDescription("Return one segment record"),
		projectArg(),
		mcp.WithNumber("segment", mcp.Required(), mcp.Description("Segment index")),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		index, err := req.RequireInt("segment")
		if err != nil {
			return nil, err
		}
		return p.Segment(index)
	}))

	s.AddTool(mcp.NewTool("edit_keyword",
		mcp.WithDescription("Add or remove a keyword of a segment"),
		projectArg(),
		mcp.WithNumber("segment", mcp.Required(), mcp.Description("Segment index")),
		mcp.WithString("keywords", mcp.Required(), mcp.Description("saqs_keywords, mcqs_keywords, gfqs_keywords or blqs_keywords")),
		mcp.WithString("word", mcp.Required(), mcp.Description("Keyword")),
		mcp.WithBoolean("remove", mcp.Description("Remove instead of add")),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		index, err := req.RequireInt("segment")
		if err != nil {
			return nil, err
		}
		kindName, err := req.RequireString("keywords")
		if err != nil {
			return nil, err
		}
		word, err := req.RequireString("word")
		if err != nil {
			return nil, err
		}
		kt, err := aqgeval.ParseKeywordType(kindName)
		if err != nil {
			return nil, err
		}
		if req.GetBool("remove", false) {
			return p.RemoveKeyword(index, kt, word)
		}
		return p.AddKeyword(index, kt, word)
	}))

	s.AddTool(mcp.NewTool("export_csv",
		mcp.WithDescription("Write the project CSV and return it"),
		projectArg(),
	), t.withProject(func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error) {
		if _, err := p.ExportCSV(); err != nil {
			return nil, err
		}
		var b strings.Builder
		if err := p.WriteCSV(&b); err != nil {
			return nil, err
		}
		return b.String(), nil
	}))
}

func (t *tools) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := t.ws.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(names)
}

func (t *tools) createProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	transcript, err := req.RequireString("transcript")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	settings := aqgeval.DefaultSettings()
	if llm := req.GetString("llm", ""); llm != "" {
		settings.LLMName = llm
	}
	p, err := t.ws.Create(name, transcript, settings)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := p.NumberOfSegments()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(map[string]any{"project": p.Name(), "segments": n})
}

type projectHandler func(ctx context.Context, p *aqgeval.Project, req mcp.CallToolRequest) (any, error)

// withProject opens the project named by the "project" argument. Operation
// failures are reported as tool errors, not protocol errors.
func (t *tools) withProject(fn projectHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("project")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p, err := t.ws.Open(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := fn(ctx, p, req)
		if err != nil {
			t.log.Error().Err(err).Str("tool", req.Params.Name).Str("project", name).Msg("tool failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return textResult(out)
	}
}

func textResult(v any) (*mcp.CallToolResult, error) {
	if s, ok := v.(string); ok {
		return mcp.NewToolResultText(s), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
