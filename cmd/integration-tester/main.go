// Command integration-tester exercises a running dxgraphd end to end: the
// REST case lifecycle, the derived chest-pain graph, a WebSocket view
// session, and the MCP SSE transport. It prints a JSON report to stdout and
// a colored summary to stderr, and exits nonzero when any step fails.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cliniscribe/dxgraph/internal/apptype"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	BaseURL    string       `json:"base_url"`
	SSEURL     string       `json:"sse_url,omitempty"`
	Workspace  string       `json:"workspace,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

var (
	good = color.New(color.FgGreen)
	bad  = color.New(color.FgRed)
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "dxgraphd base URL")
	sseURL := flag.String("sse-url", "http://localhost:8081/sse", "MCP SSE endpoint URL (empty skips the MCP steps)")
	workspace := flag.String("workspace", "", "Workspace to run against (default workspace when empty)")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	report := Report{BaseURL: *baseURL, SSEURL: *sseURL, Workspace: *workspace, StartedAt: start}

	tester := &tester{
		baseURL:   strings.TrimRight(*baseURL, "/"),
		sseURL:    *sseURL,
		workspace: *workspace,
		client:    &http.Client{Timeout: 10 * time.Second},
	}

	report.Steps = tester.run(ctx)
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range report.Steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	printSummary(report)
	if !report.Passed {
		os.Exit(1)
	}
}

func printSummary(report Report) {
	failed := 0
	for _, s := range report.Steps {
		if s.Success {
			good.Fprintf(os.Stderr, "PASS")
		} else {
			bad.Fprintf(os.Stderr, "FAIL")
			failed++
		}
		fmt.Fprintf(os.Stderr, " %-24s %5dms", s.Name, s.ElapsedMs)
		if s.Error != "" {
			fmt.Fprintf(os.Stderr, "  %s", s.Error)
		}
		fmt.Fprintln(os.Stderr)
	}
	if failed == 0 {
		good.Fprintf(os.Stderr, "PASS (%d steps, %dms)\n", len(report.Steps), report.DurationMs)
	} else {
		bad.Fprintf(os.Stderr, "FAIL (%d of %d steps failed)\n", failed, len(report.Steps))
	}
}

type tester struct {
	baseURL   string
	sseURL    string
	workspace string
	client    *http.Client

	caseID string
}

// run executes every step in order. Steps after a failed one still run: a
// broken graph endpoint should not hide a broken view session.
func (t *tester) run(ctx context.Context) []StepResult {
	steps := make([]StepResult, 0, 12)
	step := func(name string, fn func() error) {
		t0 := time.Now()
		res := StepResult{Name: name, Success: true}
		if err := fn(); err != nil {
			res.Success = false
			res.Error = err.Error()
		}
		res.ElapsedMs = elapsedMsSince(t0)
		steps = append(steps, res)
	}

	step("health", t.stepHealth)
	step("create_case", t.stepCreateCase)
	step("update_reasoning", t.stepUpdateReasoning)
	step("exclude_diagnosis", t.stepExcludeDiagnosis)
	step("prioritize_diagnosis", t.stepPrioritizeDiagnosis)
	step("completion", t.stepCompletion)
	step("search_cases", t.stepSearchCases)
	step("view_session", t.stepViewSession)
	if t.sseURL != "" {
		step("mcp_list_tools", func() error { return t.stepMCPListTools(ctx) })
		step("mcp_read_graph", func() error { return t.stepMCPReadGraph(ctx) })
	}
	step("delete_case", t.stepDeleteCase)

	return steps
}

// chestPainReasoning is the scenario every graph assertion keys off: six
// nodes (current symptom, two associated, two diagnoses, one red flag).
func chestPainReasoning() apptype.ReasoningPayload {
	return apptype.ReasoningPayload{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"shortness of breath", "sweating"},
		Diagnoses: []apptype.DiagnosisPayload{
			{
				Name:               "Myocardial Infarction",
				Confidence:         0.7,
				Category:           "cardiovascular",
				SupportingSymptoms: []string{"sweating"},
				RedFlags:           []string{"crushing pain"},
			},
			{
				Name:               "GERD",
				Confidence:         0.4,
				SupportingSymptoms: []string{"chest pain"},
			},
		},
		RedFlags: []string{"crushing pain"},
	}
}

func (t *tester) doJSON(method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, t.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.workspace != "" {
		req.Header.Set("X-Workspace", t.workspace)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (t *tester) casePath(suffix string) string {
	return "/api/v1/cases/" + t.caseID + suffix
}

func (t *tester) requireCase() error {
	if t.caseID == "" {
		return fmt.Errorf("no case created")
	}
	return nil
}

func (t *tester) stepHealth() error {
	status, err := t.doJSON(http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	return nil
}

func (t *tester) stepCreateCase() error {
	var summary apptype.CaseSummary
	status, err := t.doJSON(http.MethodPost, "/api/v1/cases", map[string]string{
		"title":          "Integration chest pain",
		"currentSymptom": "chest pain",
	}, &summary)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("status %d", status)
	}
	if summary.ID == "" {
		return fmt.Errorf("empty case id")
	}
	t.caseID = summary.ID
	return nil
}

func (t *tester) stepUpdateReasoning() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	var snap reasoning.GraphSnapshot
	status, err := t.doJSON(http.MethodPut, t.casePath("/reasoning"), chestPainReasoning(), &snap)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	if len(snap.Nodes) != 6 {
		return fmt.Errorf("expected 6 nodes, got %d", len(snap.Nodes))
	}
	return linksResolve(&snap)
}

func (t *tester) stepExcludeDiagnosis() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	var snap reasoning.GraphSnapshot
	status, err := t.doJSON(http.MethodPost, t.casePath("/exclusions"), map[string]any{
		"name":     "GERD",
		"excluded": true,
	}, &snap)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	if len(snap.Nodes) != 5 {
		return fmt.Errorf("expected 5 nodes after exclusion, got %d", len(snap.Nodes))
	}
	for _, n := range snap.Nodes {
		if n.Label == "GERD" {
			return fmt.Errorf("excluded diagnosis still present")
		}
	}
	return linksResolve(&snap)
}

func (t *tester) stepPrioritizeDiagnosis() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	var snap reasoning.GraphSnapshot
	status, err := t.doJSON(http.MethodPut, t.casePath("/priority"), map[string]string{
		"name": "Myocardial Infarction",
	}, &snap)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	want := 0.7 + reasoning.PriorityBoost
	for _, n := range snap.Nodes {
		if n.Label == "Myocardial Infarction" {
			if n.Confidence == nil {
				return fmt.Errorf("prioritized diagnosis has no confidence")
			}
			if *n.Confidence < want-1e-6 {
				return fmt.Errorf("prioritized confidence %.2f, want %.2f", *n.Confidence, want)
			}
			return nil
		}
	}
	return fmt.Errorf("prioritized diagnosis missing from graph")
}

func (t *tester) stepCompletion() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	var report struct {
		Percent int `json:"percent"`
	}
	status, err := t.doJSON(http.MethodGet, t.casePath("/completion"), nil, &report)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	if report.Percent != 100 {
		return fmt.Errorf("expected 100%% completion, got %d%%", report.Percent)
	}
	return nil
}

func (t *tester) stepSearchCases() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	var result apptype.ListCasesResult
	status, err := t.doJSON(http.MethodGet, "/api/v1/cases?q=Integration", nil, &result)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status %d", status)
	}
	for _, c := range result.Cases {
		if c.ID == t.caseID {
			return nil
		}
	}
	return fmt.Errorf("created case missing from search results")
}

// viewMessage is the catch-all for every server-to-client view message.
type viewMessage struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"sessionId,omitempty"`
	CaseID    string                   `json:"caseId,omitempty"`
	Snapshot  *reasoning.GraphSnapshot `json:"snapshot,omitempty"`
	Positions []json.RawMessage        `json:"positions,omitempty"`
	Alpha     float64                  `json:"alpha,omitempty"`
	Transform *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		K float64 `json:"k"`
	} `json:"transform,omitempty"`
	Message string `json:"message,omitempty"`
}

func (t *tester) stepViewSession() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	wsURL := "ws" + strings.TrimPrefix(t.baseURL, "http") + t.casePath("/view")

	header := http.Header{}
	if t.workspace != "" {
		header.Set("X-Workspace", t.workspace)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// hello first, carrying the post-exclusion snapshot.
	hello, err := readMessage(conn, 5*time.Second)
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Type != "hello" {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if hello.SessionID == "" || hello.CaseID != t.caseID {
		return fmt.Errorf("hello identifies wrong session or case")
	}
	if hello.Snapshot == nil || len(hello.Snapshot.Nodes) != 5 {
		return fmt.Errorf("hello snapshot incomplete")
	}

	// At least one frame with every node placed.
	frame, err := readTyped(conn, "frame", 5*time.Second)
	if err != nil {
		return fmt.Errorf("waiting for first frame: %w", err)
	}
	if len(frame.Positions) != 5 {
		return fmt.Errorf("expected 5 positions, got %d", len(frame.Positions))
	}

	// One wheel notch zooms the transform to 1.1.
	if err := conn.WriteJSON(map[string]any{"type": "wheel", "delta": -120.0, "x": 0.0, "y": 0.0}); err != nil {
		return fmt.Errorf("sending wheel: %w", err)
	}
	zoomDeadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(zoomDeadline) {
			return fmt.Errorf("transform never reflected the wheel gesture")
		}
		msg, err := readTyped(conn, "frame", 3*time.Second)
		if err != nil {
			return fmt.Errorf("waiting for zoomed frame: %w", err)
		}
		if msg.Transform != nil && msg.Transform.K > 1.09 {
			break
		}
	}

	// Freeze halts frame delivery.
	if err := conn.WriteJSON(map[string]any{"type": "freeze"}); err != nil {
		return fmt.Errorf("sending freeze: %w", err)
	}
	grace := time.Now().Add(300 * time.Millisecond)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		msg := &viewMessage{}
		if err := conn.ReadJSON(msg); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil // silence: the simulation is frozen
			}
			return fmt.Errorf("after freeze: %w", err)
		}
		if msg.Type == "frame" && time.Now().After(grace) {
			return fmt.Errorf("frame arrived after freeze")
		}
	}
}

func (t *tester) stepMCPListTools(ctx context.Context) error {
	session, err := t.connectMCP(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(tools.Tools))
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"upsert_case", "update_reasoning", "read_graph", "health_check"} {
		if !names[want] {
			return fmt.Errorf("tool %q not advertised", want)
		}
	}
	return nil
}

func (t *tester) stepMCPReadGraph(ctx context.Context) error {
	if err := t.requireCase(); err != nil {
		return err
	}
	session, err := t.connectMCP(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	args := apptype.ReadGraphArgs{
		WorkspaceArgs: apptype.WorkspaceArgs{WorkspaceName: t.workspace},
		CaseID:        t.caseID,
	}
	raw, _ := json.Marshal(args)
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "read_graph", Arguments: json.RawMessage(raw)})
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("read_graph returned an error result")
	}
	structured, ok := res.StructuredContent.(map[string]any)
	if !ok {
		return fmt.Errorf("read_graph returned no structured content")
	}
	nodes, ok := structured["nodes"].([]any)
	if !ok || len(nodes) != 5 {
		return fmt.Errorf("expected 5 nodes over MCP, got %d", len(nodes))
	}
	return nil
}

func (t *tester) connectMCP(ctx context.Context) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(t.sseURL, nil)
	return client.Connect(ctx, transport)
}

func (t *tester) stepDeleteCase() error {
	if err := t.requireCase(); err != nil {
		return err
	}
	status, err := t.doJSON(http.MethodDelete, t.casePath(""), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("delete status %d", status)
	}
	status, err = t.doJSON(http.MethodGet, t.casePath(""), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("expected 404 after delete, got %d", status)
	}
	return nil
}

func readMessage(conn *websocket.Conn, timeout time.Duration) (*viewMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	msg := &viewMessage{}
	if err := conn.ReadJSON(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// readTyped skips messages until one of the wanted type arrives.
func readTyped(conn *websocket.Conn, wantType string, timeout time.Duration) (*viewMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no %q message within %s", wantType, timeout)
		}
		msg, err := readMessage(conn, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if msg.Type == wantType {
			return msg, nil
		}
		if msg.Type == "error" {
			return nil, fmt.Errorf("server error: %s", msg.Message)
		}
	}
}

func linksResolve(snap *reasoning.GraphSnapshot) error {
	ids := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		ids[n.ID] = true
	}
	for _, l := range snap.Links {
		if !ids[l.Source] || !ids[l.Target] {
			return fmt.Errorf("link %s -> %s references a missing node", l.Source, l.Target)
		}
	}
	return nil
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}
