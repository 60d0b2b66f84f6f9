package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cpa-ufpa/avalia-report/internal/config"
	"github.com/cpa-ufpa/avalia-report/internal/descriptions"
	"github.com/cpa-ufpa/avalia-report/internal/report"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	ctrl      *report.Controller
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, ctrl *report.Controller) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("report controller cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		ctrl:      ctrl,
		mcpServer: mcpServer,
	}
	s.registerTools()

	return s, nil
}

func selectionParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("period",
			mcp.Required(),
			mcp.Description("Survey period, e.g. 2025"),
		),
		mcp.WithString("program",
			mcp.Description("Program (curso); may be omitted when the period offers only one"),
		),
		mcp.WithString("unit",
			mcp.Description("Unit (polo), or 'Todos os Polos' for the aggregate report; empty for periods without units"),
		),
	}
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolCatalog,
		mcp.WithDescription(descriptions.ReportCatalogDescription),
	), s.handleCatalog)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolSelect,
		append([]mcp.ToolOption{mcp.WithDescription(descriptions.ReportSelectDescription)}, selectionParams()...)...,
	), s.handleSelect)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolStatus,
		mcp.WithDescription(descriptions.ReportStatusDescription),
	), s.handleStatus)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolCancel,
		mcp.WithDescription(descriptions.ReportCancelDescription),
	), s.handleCancel)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolGenerate,
		append([]mcp.ToolOption{mcp.WithDescription(descriptions.ReportGenerateDescription)}, selectionParams()...)...,
	), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool(descriptions.ToolInfo,
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

// selectionFrom reads the selection arguments of a request
func selectionFrom(request mcp.CallToolRequest) (selection.Selection, error) {
	period, err := request.RequireString("period")
	if err != nil {
		return selection.Selection{}, err
	}
	args := request.GetArguments()
	sel := selection.Selection{Period: strings.TrimSpace(period)}
	if v, ok := args["program"].(string); ok {
		sel.Program = strings.TrimSpace(v)
	}
	if v, ok := args["unit"].(string); ok {
		sel.Unit = strings.TrimSpace(v)
	}
	return sel, nil
}

// Handler functions
func (s *Server) handleCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cat := s.ctrl.Catalog()
	names := cat.Periods()
	if len(names) == 0 {
		return mcp.NewToolResultText("No survey periods loaded"), nil
	}

	text := fmt.Sprintf("Survey periods (%d), preferred: %s\n", len(names), cat.Preferred())
	for _, name := range names {
		p, ok := cat.Period(name)
		if !ok {
			continue
		}
		text += fmt.Sprintf("\n• %s\n", p.Name)
		text += fmt.Sprintf("  Programs: %s\n", strings.Join(p.Programs, ", "))
		if p.HasUnits() {
			text += fmt.Sprintf("  Units: %s (or %s)\n", strings.Join(p.Units, ", "), "Todos os Polos")
		} else {
			text += "  Units: none\n"
		}
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSelect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := selectionFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.ctrl.Select(sel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Report selected\n" + formatStatus(st)), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatStatus(s.ctrl.Status())), nil
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatStatus(s.ctrl.Cancel())), nil
}

func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := selectionFrom(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.ctrl.Select(sel); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	st, err := s.ctrl.Wait(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stopped waiting for the report: %v", err)), nil
	}

	switch st.Phase {
	case report.PhaseDone:
	case report.PhaseFailed:
		return mcp.NewToolResultError(st.Error), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("report %s", st.Phase)), nil
	}

	if st.FromCache {
		return mcp.NewToolResultText(fmt.Sprintf("Report served from cache: %s\nFile name: %s\n", st.URL, st.FileName)), nil
	}

	path, err := s.writeDocument(st)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := fmt.Sprintf("Report written to %s\n", path)
	text += fmt.Sprintf("Pages: %d\n", st.Pages)
	if st.Warnings > 0 {
		text += fmt.Sprintf("Warnings: %d (some charts or the appendix may be missing)\n", st.Warnings)
	}
	if st.URL != "" {
		text += fmt.Sprintf("Cached at: %s\n", st.URL)
	}
	return mcp.NewToolResultText(text), nil
}

// writeDocument saves the document of a finished run in the output directory
func (s *Server) writeDocument(st report.Status) (string, error) {
	doc, ok := s.ctrl.Document(st.Token)
	if !ok {
		return "", errors.New("the generated document is no longer available")
	}
	if err := os.MkdirAll(s.config.OutputDirectory, config.DefaultDirPerm); err != nil {
		return "", fmt.Errorf("cannot create output directory: %w", err)
	}
	path := filepath.Join(s.config.OutputDirectory, filepath.Base(doc.FileName))
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func (s *Server) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("📊 Dashboard: %s\n", s.config.DashboardURL)
	text += fmt.Sprintf("📁 Data Directory: %s\n", s.config.DataDirectory)
	text += fmt.Sprintf("📁 Output Directory: %s\n", s.config.OutputDirectory)
	switch {
	case !s.config.CacheEnabled():
		text += "🗄️  Cache: disabled\n"
	case s.config.UsesLocalCache():
		text += fmt.Sprintf("🗄️  Cache: local store in %s\n", s.config.CacheDirectory)
	default:
		text += fmt.Sprintf("🗄️  Cache: %s\n", s.config.CacheURL)
	}
	text += fmt.Sprintf("📅 Periods: %s\n", strings.Join(s.ctrl.Catalog().Periods(), ", "))

	guard := s.ctrl.Guard()
	health := guard.Health()
	state := "healthy"
	if !health.Healthy {
		state = "degraded"
	}
	stats := guard.Stats()
	text += fmt.Sprintf("🩺 Stability: %s, %d panic(s) recovered, peak memory %d MB, up %s\n",
		state, health.PanicCount, stats.MaxAlloc/1024/1024, health.Uptime)
	if panics := guard.Panics(); len(panics) > 0 {
		text += fmt.Sprintf("   Last panic: %s\n", panics[len(panics)-1].Message)
	}

	text += "\n🛠️  Available Tools:\n"
	for _, name := range descriptions.GetAllToolNames() {
		desc := descriptions.GetToolDescription(name)
		if i := strings.Index(desc, "\n"); i > 0 {
			desc = desc[:i]
		}
		text += fmt.Sprintf("• %s: %s\n", name, desc)
	}
	return mcp.NewToolResultText(text), nil
}

// formatStatus renders a run for humans
func formatStatus(st report.Status) string {
	if st.RunID == "" {
		return "No report selected"
	}
	text := fmt.Sprintf("Selection: %s\n", st.Selection)
	text += fmt.Sprintf("Phase: %s\n", st.Phase)
	text += fmt.Sprintf("Progress: %.0f%% - %s\n", st.Progress.Percent, st.Progress.Message)
	text += fmt.Sprintf("File name: %s\n", st.FileName)
	if st.FromCache {
		text += fmt.Sprintf("Served from cache: %s\n", st.URL)
	}
	if st.Token != "" {
		text += fmt.Sprintf("Download token: %s\n", st.Token)
		text += fmt.Sprintf("Pages: %d\n", st.Pages)
	}
	if st.Warnings > 0 {
		text += fmt.Sprintf("Warnings: %d\n", st.Warnings)
	}
	if st.Error != "" {
		text += fmt.Sprintf("Error: %s\n", st.Error)
	}
	return text
}

// Run serves MCP over standard I/O until the client disconnects or ctx is done
func (s *Server) Run(ctx context.Context) error {
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(ctx context.Context) error {
	if s.config.IsDebug() {
		log.Printf("Starting AVALIA report MCP server in stdio mode")
		log.Printf("Dashboard: %s", s.config.DashboardURL)
	}
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[MCP] ", log.LstdFlags))

	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
