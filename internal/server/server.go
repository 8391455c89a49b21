// Package server exposes the clinic service over the Model Context Protocol
// so a scribe assistant can drive case documentation from a chat session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/apptype"
	"github.com/cliniscribe/dxgraph/internal/buildinfo"
	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/metrics"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
	"github.com/cliniscribe/dxgraph/internal/store"
)

const serverName = "dxgraph"

// poolStatsInterval is how often the transports sample connection pool usage.
const poolStatsInterval = 30 * time.Second

var validate = validator.New()

// MCPServer handles MCP protocol communication.
type MCPServer struct {
	server *mcp.Server
	svc    *clinic.Service
	logger *zap.Logger
}

// NewMCPServer creates a new MCP server around the clinic service.
func NewMCPServer(svc *clinic.Service, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		svc:    svc,
		logger: logger,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	upsertCaseInputSchema, err := jsonschema.For[apptype.UpsertCaseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpsertCaseArgs: %v", err))
	}
	caseSummaryOutputSchema, err := jsonschema.For[apptype.CaseSummary]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for CaseSummary: %v", err))
	}
	getCaseInputSchema, err := jsonschema.For[apptype.GetCaseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GetCaseArgs: %v", err))
	}
	caseDetailOutputSchema, err := jsonschema.For[apptype.CaseDetail]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for CaseDetail: %v", err))
	}
	listCasesInputSchema, err := jsonschema.For[apptype.ListCasesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ListCasesArgs: %v", err))
	}
	listCasesOutputSchema, err := jsonschema.For[apptype.ListCasesResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ListCasesResult: %v", err))
	}
	deleteCaseInputSchema, err := jsonschema.For[apptype.DeleteCaseArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for DeleteCaseArgs: %v", err))
	}
	updateReasoningInputSchema, err := jsonschema.For[apptype.UpdateReasoningArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for UpdateReasoningArgs: %v", err))
	}
	// Each graph-returning tool gets a fresh snapshot schema to avoid
	// re-resolving the same root.
	updateReasoningOutputSchema, err := jsonschema.For[reasoning.GraphSnapshot]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphSnapshot (update_reasoning): %v", err))
	}
	setExclusionInputSchema, err := jsonschema.For[apptype.SetExclusionArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SetExclusionArgs: %v", err))
	}
	setExclusionOutputSchema, err := jsonschema.For[reasoning.GraphSnapshot]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphSnapshot (set_exclusion): %v", err))
	}
	setPriorityInputSchema, err := jsonschema.For[apptype.SetPriorityArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SetPriorityArgs: %v", err))
	}
	setPriorityOutputSchema, err := jsonschema.For[reasoning.GraphSnapshot]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphSnapshot (set_priority): %v", err))
	}
	readGraphInputSchema, err := jsonschema.For[apptype.ReadGraphArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ReadGraphArgs: %v", err))
	}
	readGraphOutputSchema, err := jsonschema.For[reasoning.GraphSnapshot]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphSnapshot (read_graph): %v", err))
	}
	getCompletionInputSchema, err := jsonschema.For[apptype.GetCompletionArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GetCompletionArgs: %v", err))
	}
	getCompletionOutputSchema, err := jsonschema.For[clinic.CompletionReport]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for CompletionReport: %v", err))
	}
	exportReportInputSchema, err := jsonschema.For[apptype.ExportReportArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExportReportArgs: %v", err))
	}
	exportReportOutputSchema, err := jsonschema.For[export.Receipt]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for Receipt: %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	upsertCaseAnnotations := mcp.ToolAnnotations{
		Title: "Upsert Case",
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Annotations:  &upsertCaseAnnotations,
		Name:         "upsert_case",
		Title:        "Upsert Case",
		Description:  "Create a clinical case, or update the title and presenting symptom of an existing one.",
		InputSchema:  upsertCaseInputSchema,
		OutputSchema: caseSummaryOutputSchema,
	}, s.handleUpsertCase)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_case",
		Title:        "Get Case",
		Description:  "Load a case with all of its reasoning sections.",
		InputSchema:  getCaseInputSchema,
		OutputSchema: caseDetailOutputSchema,
	}, s.handleGetCase)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "list_cases",
		Title:        "List Cases",
		Description:  "List cases, most recently updated first, with an optional text filter.",
		InputSchema:  listCasesInputSchema,
		OutputSchema: listCasesOutputSchema,
	}, s.handleListCases)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_case",
		Title:       "Delete Case",
		Description: "Delete a case and all of its reasoning data.",
		InputSchema: deleteCaseInputSchema,
	}, s.handleDeleteCase)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "update_reasoning",
		Title:        "Update Reasoning",
		Description:  "Replace the reasoning sections of a case and return the rebuilt graph.",
		InputSchema:  updateReasoningInputSchema,
		OutputSchema: updateReasoningOutputSchema,
	}, s.handleUpdateReasoning)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "set_exclusion",
		Title:        "Set Exclusion",
		Description:  "Rule a diagnosis in or out and return the rebuilt graph.",
		InputSchema:  setExclusionInputSchema,
		OutputSchema: setExclusionOutputSchema,
	}, s.handleSetExclusion)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "set_priority",
		Title:        "Set Priority",
		Description:  "Mark a diagnosis as the working priority (empty name clears it) and return the rebuilt graph.",
		InputSchema:  setPriorityInputSchema,
		OutputSchema: setPriorityOutputSchema,
	}, s.handleSetPriority)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "read_graph",
		Title:        "Read Graph",
		Description:  "Derive the current reasoning graph for a case.",
		InputSchema:  readGraphInputSchema,
		OutputSchema: readGraphOutputSchema,
	}, s.handleReadGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_completion",
		Title:        "Get Completion",
		Description:  "Report how much of the case form is filled in.",
		InputSchema:  getCompletionInputSchema,
		OutputSchema: getCompletionOutputSchema,
	}, s.handleGetCompletion)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "export_report",
		Title:        "Export Report",
		Description:  "Render the case narrative and push it to the configured documentation system.",
		InputSchema:  exportReportInputSchema,
		OutputSchema: exportReportOutputSchema,
	}, s.handleExportReport)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

func workspaceLabel(providedName string) string {
	if providedName != "" {
		return providedName
	}
	return store.DefaultWorkspace
}

// handleUpsertCase handles the upsert_case tool call
func (s *MCPServer) handleUpsertCase(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertCaseArgs],
) (*mcp.CallToolResultFor[apptype.CaseSummary], error) {
	done := metrics.TimeTool("upsert_case")
	var success bool
	defer func() { done(success) }()
	workspace := params.Arguments.WorkspaceArgs.WorkspaceName

	c, err := s.svc.UpsertCase(ctx, workspace, params.Arguments.CaseID, params.Arguments.Title, params.Arguments.CurrentSymptom)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert case: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.CaseSummary]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Case %s ready in workspace %s", c.ID, workspaceLabel(workspace)),
			},
		},
		StructuredContent: apptype.SummaryFromCase(*c),
	}, nil
}

// handleGetCase handles the get_case tool call
func (s *MCPServer) handleGetCase(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetCaseArgs],
) (*mcp.CallToolResultFor[apptype.CaseDetail], error) {
	done := metrics.TimeTool("get_case")
	var success bool
	defer func() { done(success) }()

	rec, err := s.svc.GetCase(ctx, params.Arguments.WorkspaceArgs.WorkspaceName, params.Arguments.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.CaseDetail]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Case loaded"},
		},
		StructuredContent: apptype.DetailFromRecord(rec),
	}, nil
}

// handleListCases handles the list_cases tool call
func (s *MCPServer) handleListCases(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ListCasesArgs],
) (*mcp.CallToolResultFor[apptype.ListCasesResult], error) {
	done := metrics.TimeTool("list_cases")
	var success bool
	defer func() { done(success) }()
	workspace := params.Arguments.WorkspaceArgs.WorkspaceName
	limit := params.Arguments.Limit
	offset := params.Arguments.Offset

	var (
		cases []store.Case
		err   error
	)
	if params.Arguments.Query != "" {
		cases, err = s.svc.SearchCases(ctx, workspace, params.Arguments.Query, limit)
	} else {
		cases, err = s.svc.ListCases(ctx, workspace, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ListCasesResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Found %d cases in workspace %s", len(cases), workspaceLabel(workspace)),
			},
		},
		StructuredContent: apptype.ListCasesResult{Cases: apptype.SummariesFromCases(cases)},
	}, nil
}

// handleDeleteCase handles the delete_case tool call
func (s *MCPServer) handleDeleteCase(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.DeleteCaseArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("delete_case")
	var success bool
	defer func() { done(success) }()
	workspace := params.Arguments.WorkspaceArgs.WorkspaceName

	if err := s.svc.DeleteCase(ctx, workspace, params.Arguments.CaseID); err != nil {
		return nil, fmt.Errorf("failed to delete case: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Successfully deleted case %s in workspace %s", params.Arguments.CaseID, workspaceLabel(workspace)),
			},
		},
	}, nil
}

// handleUpdateReasoning handles the update_reasoning tool call
func (s *MCPServer) handleUpdateReasoning(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpdateReasoningArgs],
) (*mcp.CallToolResultFor[reasoning.GraphSnapshot], error) {
	done := metrics.TimeTool("update_reasoning")
	var success bool
	defer func() { done(success) }()

	if err := validate.Struct(params.Arguments.Reasoning); err != nil {
		return nil, fmt.Errorf("invalid reasoning payload: %w", err)
	}

	snap, err := s.svc.UpdateReasoning(ctx,
		params.Arguments.WorkspaceArgs.WorkspaceName,
		params.Arguments.CaseID,
		params.Arguments.Reasoning.ToReasoning())
	if err != nil {
		return nil, fmt.Errorf("failed to update reasoning: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[reasoning.GraphSnapshot]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Reasoning updated: %d nodes, %d links", len(snap.Nodes), len(snap.Links)),
			},
		},
		StructuredContent: *snap,
	}, nil
}

// handleSetExclusion handles the set_exclusion tool call
func (s *MCPServer) handleSetExclusion(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SetExclusionArgs],
) (*mcp.CallToolResultFor[reasoning.GraphSnapshot], error) {
	done := metrics.TimeTool("set_exclusion")
	var success bool
	defer func() { done(success) }()

	snap, err := s.svc.SetExcluded(ctx,
		params.Arguments.WorkspaceArgs.WorkspaceName,
		params.Arguments.CaseID,
		params.Arguments.Name,
		params.Arguments.Excluded)
	if err != nil {
		return nil, fmt.Errorf("failed to set exclusion: %w", err)
	}
	success = true

	verb := "reinstated"
	if params.Arguments.Excluded {
		verb = "excluded"
	}
	return &mcp.CallToolResultFor[reasoning.GraphSnapshot]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Diagnosis %q %s", params.Arguments.Name, verb),
			},
		},
		StructuredContent: *snap,
	}, nil
}

// handleSetPriority handles the set_priority tool call
func (s *MCPServer) handleSetPriority(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SetPriorityArgs],
) (*mcp.CallToolResultFor[reasoning.GraphSnapshot], error) {
	done := metrics.TimeTool("set_priority")
	var success bool
	defer func() { done(success) }()

	snap, err := s.svc.SetPrioritized(ctx,
		params.Arguments.WorkspaceArgs.WorkspaceName,
		params.Arguments.CaseID,
		params.Arguments.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to set priority: %w", err)
	}
	success = true

	text := "Priority cleared"
	if params.Arguments.Name != "" {
		text = fmt.Sprintf("Diagnosis %q prioritized", params.Arguments.Name)
	}
	return &mcp.CallToolResultFor[reasoning.GraphSnapshot]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: *snap,
	}, nil
}

// handleReadGraph handles the read_graph tool call
func (s *MCPServer) handleReadGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ReadGraphArgs],
) (*mcp.CallToolResultFor[reasoning.GraphSnapshot], error) {
	done := metrics.TimeTool("read_graph")
	var success bool
	defer func() { done(success) }()

	snap, err := s.svc.Graph(ctx, params.Arguments.WorkspaceArgs.WorkspaceName, params.Arguments.CaseID)
	if err != nil {
		return nil, fmt.Errorf("read graph failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[reasoning.GraphSnapshot]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Graph read successfully"},
		},
		StructuredContent: *snap,
	}, nil
}

// handleGetCompletion handles the get_completion tool call
func (s *MCPServer) handleGetCompletion(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetCompletionArgs],
) (*mcp.CallToolResultFor[clinic.CompletionReport], error) {
	done := metrics.TimeTool("get_completion")
	var success bool
	defer func() { done(success) }()

	report, err := s.svc.Completion(ctx, params.Arguments.WorkspaceArgs.WorkspaceName, params.Arguments.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[clinic.CompletionReport]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Case form is %d%% complete", report.Percent),
			},
		},
		StructuredContent: report,
	}, nil
}

// handleExportReport handles the export_report tool call
func (s *MCPServer) handleExportReport(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ExportReportArgs],
) (*mcp.CallToolResultFor[export.Receipt], error) {
	done := metrics.TimeTool("export_report")
	var success bool
	defer func() { done(success) }()

	receipt, err := s.svc.ExportReport(ctx, params.Arguments.WorkspaceArgs.WorkspaceName, params.Arguments.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to export report: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[export.Receipt]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("Report exported via %s", receipt.Provider),
			},
		},
		StructuredContent: receipt,
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	cfg := s.svc.StoreConfig()
	// observe current pool gauges
	inUse, idle := s.svc.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	res := &apptype.HealthResult{
		Name:           serverName,
		Version:        buildinfo.Version,
		Revision:       buildinfo.Revision,
		BuildDate:      buildinfo.BuildDate,
		MultiWorkspace: cfg.MultiWorkspace,
		ExportProvider: s.svc.ExporterName(),
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: *res,
	}, nil
}

// observePoolStats samples connection pool usage until ctx is done.
func (s *MCPServer) observePoolStats(ctx context.Context, logStats bool) {
	ticker := time.NewTicker(poolStatsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.svc.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
				if logStats {
					s.logger.Debug("connection pool stats", zap.Int("inUse", inUse), zap.Int("idle", idle))
				}
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	// periodic pool stats reporting
	s.observePoolStats(ctx, false)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	// periodic pool stats reporting
	s.observePoolStats(ctx, true)

	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("SSE MCP server listening", zap.String("addr", addr), zap.String("endpoint", endpoint))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
