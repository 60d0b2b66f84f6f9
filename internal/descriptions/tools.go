package descriptions

// Tool descriptions with practical examples and use cases

const (
	ReportCatalogDescription = `List the survey periods with their programs and units.

**When to use:** Before selecting a report, to learn which filters exist.

**Examples:**
• "Which programs were evaluated in 2025?"
• "Does the 2023 survey have units (polos)?"

**Notes:** Periods that list units allow a single-unit report or the aggregate "Todos os Polos" report. Periods without units produce one report per program.`

	ReportSelectDescription = `Select the report filters and start building the report in the background.

**When to use:** The user changed period, program or unit. Selecting again cancels a running build.

**Examples:**
• Aggregate report: period "2025", program "Pedagogia", unit "Todos os Polos"
• Single unit: period "2025", program "Pedagogia", unit "Breves"
• Period without units: period "2023", program "Letras"

**Common workflows:**
1. report_select → report_status until done → download or report_generate
2. report_select → report_cancel when the user gives up

**Notes:** Aggregate reports are served from the shared cache when available. Selecting the same filters again is a no-op unless the last build failed or was cancelled.`

	ReportStatusDescription = `Show the progress of the current report: percent, message, phase and the download handle when done.

**When to use:** After report_select, to follow the build.

**Notes:** The percent never goes backwards while a build runs; it reaches 100 only when the document is ready.`

	ReportCancelDescription = `Cancel the report build that is running. The selection is kept.

**When to use:** The user no longer wants the report or picked the wrong filters.`

	ReportGenerateDescription = `Build a report and write the PDF to the output directory, waiting until it is done.

**When to use:** A file is wanted rather than a background build.

**Examples:**
• "Generate the AVALIA 2025 report for Pedagogia, all units"
• "Write the 2023 Letras report to disk"

**Notes:** A cached aggregate report is not rebuilt; its address is returned instead. The file name is relatorio-avalia-<period>-<program> followed by -todos-os-polos or the unit.`

	ServerInfoDescription = `Get server information: dashboard, cache, output directory, loaded periods and available tools.

**When to use:** Start of a session, or when reports fail and the setup needs checking.`
)

// Tool names
const (
	ToolCatalog  = "report_catalog"
	ToolSelect   = "report_select"
	ToolStatus   = "report_status"
	ToolCancel   = "report_cancel"
	ToolGenerate = "report_generate"
	ToolInfo     = "server_info"
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	ToolCatalog:  ReportCatalogDescription,
	ToolSelect:   ReportSelectDescription,
	ToolStatus:   ReportStatusDescription,
	ToolCancel:   ReportCancelDescription,
	ToolGenerate: ReportGenerateDescription,
	ToolInfo:     ServerInfoDescription,
}

// GetToolDescription returns the description of a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the tool names in registration order
func GetAllToolNames() []string {
	return []string{ToolCatalog, ToolSelect, ToolStatus, ToolCancel, ToolGenerate, ToolInfo}
}
