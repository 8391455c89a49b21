package apptype

// WorkspaceArgs provides a standard way to pass workspace context to tools.
type WorkspaceArgs struct {
	WorkspaceName string `json:"workspaceName,omitempty" jsonschema:"The name of the workspace to operate on. If not provided, the default workspace is used."`
}

// UpsertCaseArgs represents the arguments for the upsert_case tool.
type UpsertCaseArgs struct {
	WorkspaceArgs  WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID         string        `json:"caseId,omitempty" jsonschema:"The case to update. A new case is created when omitted."`
	Title          string        `json:"title,omitempty" jsonschema:"Human-readable case title."`
	CurrentSymptom string        `json:"currentSymptom,omitempty" jsonschema:"The presenting symptom. An empty value leaves the stored one unchanged."`
}

// GetCaseArgs represents the arguments for the get_case tool.
type GetCaseArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case to load."`
}

// ListCasesArgs represents the arguments for the list_cases tool.
type ListCasesArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	Query         string        `json:"query,omitempty" jsonschema:"Optional text filter over case titles and current symptoms."`
	Limit         int           `json:"limit,omitempty" jsonschema:"Maximum number of cases to return (default 20)."`
	Offset        int           `json:"offset,omitempty" jsonschema:"Number of cases to skip (for pagination; ignored with query)."`
}

// DeleteCaseArgs represents the arguments for the delete_case tool.
type DeleteCaseArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case to delete."`
}

// UpdateReasoningArgs represents the arguments for the update_reasoning tool.
type UpdateReasoningArgs struct {
	WorkspaceArgs WorkspaceArgs    `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string           `json:"caseId" jsonschema:"The case to update."`
	Reasoning     ReasoningPayload `json:"reasoning" jsonschema:"The full replacement reasoning state."`
}

// SetExclusionArgs represents the arguments for the set_exclusion tool.
type SetExclusionArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case holding the diagnosis."`
	Name          string        `json:"name" jsonschema:"The diagnosis to flag."`
	Excluded      bool          `json:"excluded" jsonschema:"True rules the diagnosis out, false reinstates it."`
}

// SetPriorityArgs represents the arguments for the set_priority tool.
type SetPriorityArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case holding the diagnosis."`
	Name          string        `json:"name,omitempty" jsonschema:"The diagnosis to prioritize. Empty clears the priority."`
}

// ReadGraphArgs represents the arguments for the read_graph tool.
type ReadGraphArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case whose reasoning graph to derive."`
}

// GetCompletionArgs represents the arguments for the get_completion tool.
type GetCompletionArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case to score."`
}

// ExportReportArgs represents the arguments for the export_report tool.
type ExportReportArgs struct {
	WorkspaceArgs WorkspaceArgs `json:"workspaceArgs,omitempty" jsonschema:"Workspace context for the operation."`
	CaseID        string        `json:"caseId" jsonschema:"The case whose report to export."`
}

// ListCasesResult is the structured result of the list_cases tool.
type ListCasesResult struct {
	Cases []CaseSummary `json:"cases"`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Revision       string `json:"revision"`
	BuildDate      string `json:"buildDate"`
	MultiWorkspace bool   `json:"multiWorkspace"`
	ExportProvider string `json:"exportProvider,omitempty"`
}
