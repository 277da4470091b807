package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/varalys/fimwatch/internal/engine"
	"github.com/varalys/fimwatch/internal/types"
)

// maxRows bounds the live feed; the oldest entries fall off first.
const maxRows = 1000

var (
	tableBorderStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("240"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("6")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("7"))

	emptyTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Align(lipgloss.Center)

	popupStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(1, 4)

	sevHighStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sevMedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sevLowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Source is the running monitor the view observes.
type Source interface {
	Root() string
	State() engine.State
	TriggerReconcile() bool
}

// severityText returns plain text for severity (ANSI codes break table truncation).
func severityText(s types.Severity) string {
	switch s {
	case types.SevHigh:
		return "HIGH"
	case types.SevMed:
		return "MED"
	case types.SevLow:
		return "LOW"
	default:
		return string(s)
	}
}

func outcomeText(o engine.Outcome) string {
	switch {
	case !o.Admitted:
		return "throttled"
	case o.Delivered:
		return "alerted"
	case o.Err != nil:
		return "failed"
	}
	return "-"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

type (
	outcomeMsg engine.Outcome
	tickMsg    time.Time
	statusMsg  string
)

// Model is the live findings view.
type Model struct {
	source   Source
	prefs    Prefs
	now      func() time.Time
	table    table.Model
	viewport viewport.Model
	spinner  spinner.Model

	outcomes []engine.Outcome
	visible  []int // indices into outcomes, newest first

	search         textinput.Model
	searchMode     bool
	query          string
	severityFilter types.Severity

	showDetail bool
	showHelp   bool
	ready      bool
	quitting   bool
	width      int
	height     int
	state      engine.State
	dropped    int

	statusMessage string
	statusUntil   time.Time
}

// NewModel builds a view over source. source may be nil for a detached view.
func NewModel(source Source, prefs Prefs) Model {
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("15")).
		Bold(true).
		Padding(0, 1).
		Align(lipgloss.Left)
	s.Selected = lipgloss.NewStyle().
		Foreground(lipgloss.Color("232")).
		Background(lipgloss.Color("208")).
		Bold(true).
		Padding(0, 1)
	s.Cell = lipgloss.NewStyle().Padding(0, 1)
	t.SetStyles(s)

	// Line spinner avoids Braille characters that render poorly on some terminals
	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	ti := textinput.New()
	ti.Placeholder = "Search path or kind..."
	ti.CharLimit = 100
	ti.Width = 50
	ti.Prompt = "/ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	m := Model{
		source:         source,
		prefs:          prefs,
		severityFilter: prefs.SeverityFilter,
		now:            time.Now,
		table:          t,
		viewport:       viewport.New(80, 10),
		spinner:        sp,
		search:         ti,
		statusMessage:  "q: quit | ?: help | /: search | s: severity | r: reconcile | enter: details",
	}
	if source != nil {
		m.state = source.State()
	}
	return m
}

func columns(width int) []table.Column {
	path := width - 8 - 10 - 10 - 12 - 12
	if path < 20 {
		path = 20
	}
	return []table.Column{
		{Title: "Sev", Width: 8},
		{Title: "Kind", Width: 10},
		{Title: "Path", Width: path},
		{Title: "Digest", Width: 12},
		{Title: "Outcome", Width: 10},
		{Title: "Age", Width: 8},
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// add appends an outcome, trimming the feed to maxRows.
func (m *Model) add(o engine.Outcome) {
	m.outcomes = append(m.outcomes, o)
	if over := len(m.outcomes) - maxRows; over > 0 {
		m.outcomes = append([]engine.Outcome(nil), m.outcomes[over:]...)
		m.dropped += over
	}
	m.refresh()
}

func (m *Model) matches(o engine.Outcome) bool {
	f := o.Finding
	if m.severityFilter != "" && f.Severity != m.severityFilter {
		return false
	}
	if m.query == "" {
		return true
	}
	q := strings.ToLower(m.query)
	return strings.Contains(strings.ToLower(f.Path), q) ||
		strings.Contains(strings.ToLower(f.OldPath), q) ||
		strings.Contains(string(f.Kind), q)
}

// refresh recomputes the visible rows.
func (m *Model) refresh() {
	m.visible = make([]int, 0, len(m.outcomes))
	rows := make([]table.Row, 0, len(m.outcomes))
	now := m.now()
	for i := len(m.outcomes) - 1; i >= 0; i-- {
		o := m.outcomes[i]
		if !m.matches(o) {
			continue
		}
		m.visible = append(m.visible, i)
		f := o.Finding
		p := f.Path
		if f.OldPath != "" {
			p = f.OldPath + " -> " + f.Path
		}
		rows = append(rows, table.Row{
			severityText(f.Severity), string(f.Kind), p,
			m.digest(f.CurrentDigest), outcomeText(o), formatAge(now.Sub(f.ObservedAt)),
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
	m.updateDetail()
}

func (m *Model) digest(d string) string {
	if d == "" {
		return "-"
	}
	if !m.prefs.FullDigests && len(d) > 12 {
		return d[:12]
	}
	return d
}

func (m *Model) selected() *engine.Outcome {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.visible) {
		return nil
	}
	o := m.outcomes[m.visible[c]]
	return &o
}

func (m *Model) updateDetail() {
	o := m.selected()
	if o == nil {
		m.viewport.SetContent("")
		return
	}
	var b strings.Builder
	b.WriteString(highlightJSON(findingJSON(o.Finding)))
	if o.Err != nil {
		b.WriteString("\n" + sevHighStyle.Render("delivery error: "+o.Err.Error()))
	}
	m.viewport.SetContent(b.String())
}

func findingJSON(f types.Finding) string {
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", f)
	}
	return string(out)
}

func highlightJSON(code string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

func (m *Model) setStatus(s string) {
	m.statusMessage = s
	m.statusUntil = m.now().Add(5 * time.Second)
}

func (m *Model) cycleSeverity() tea.Cmd {
	switch m.severityFilter {
	case "":
		m.severityFilter = types.SevHigh
	case types.SevHigh:
		m.severityFilter = types.SevMed
	case types.SevMed:
		m.severityFilter = types.SevLow
	default:
		m.severityFilter = ""
	}
	m.refresh()
	m.prefs.SeverityFilter = m.severityFilter
	return m.savePrefs()
}

func (m *Model) savePrefs() tea.Cmd {
	prefs := m.prefs
	return func() tea.Msg {
		if err := SavePrefs(prefs); err != nil {
			return statusMsg(fmt.Sprintf("Could not save preferences: %v", err))
		}
		return nil
	}
}

func (m *Model) resize() {
	m.table.SetColumns(columns(m.width - 4))
	tableHeight := m.height - 8
	if m.showDetail {
		tableHeight = (m.height - 8) / 2
		m.viewport.Width = m.width - 4
		m.viewport.Height = m.height - 8 - tableHeight - 2
	}
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.table.SetHeight(tableHeight)
}

func (m Model) copyPath() tea.Cmd {
	o := m.selected()
	if o == nil {
		return nil
	}
	p := o.Finding.Path
	return func() tea.Msg {
		if err := clipboard.WriteAll(p); err != nil {
			return statusMsg(fmt.Sprintf("Clipboard error: %v", err))
		}
		return statusMsg("Copied path to clipboard")
	}
}

func (m Model) copyFinding() tea.Cmd {
	o := m.selected()
	if o == nil {
		return nil
	}
	body := findingJSON(o.Finding)
	return func() tea.Msg {
		if err := clipboard.WriteAll(body); err != nil {
			return statusMsg(fmt.Sprintf("Clipboard error: %v", err))
		}
		return statusMsg("Copied finding to clipboard")
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resize()
		return m, nil
	case outcomeMsg:
		m.add(engine.Outcome(msg))
		return m, nil
	case tickMsg:
		if m.source != nil {
			m.state = m.source.State()
		}
		if !m.statusUntil.IsZero() && m.now().After(m.statusUntil) {
			m.statusMessage = "q: quit | ?: help | /: search | s: severity | r: reconcile | enter: details"
			m.statusUntil = time.Time{}
		}
		m.refresh()
		return m, tick()
	case statusMsg:
		m.setStatus(string(msg))
		return m, nil
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		if m.searchMode {
			switch msg.String() {
			case "enter":
				m.searchMode = false
				m.query = m.search.Value()
				m.search.Blur()
				m.refresh()
				return m, nil
			case "esc":
				m.searchMode = false
				m.search.Blur()
				return m, nil
			}
			m.search, cmd = m.search.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "?", "h":
			m.showHelp = true
			return m, nil
		case "/":
			m.searchMode = true
			m.search.SetValue(m.query)
			m.search.Focus()
			return m, textinput.Blink
		case "esc":
			m.query = ""
			m.severityFilter = ""
			m.refresh()
			return m, nil
		case "s":
			return m, m.cycleSeverity()
		case "enter":
			m.showDetail = !m.showDetail
			m.resize()
			m.updateDetail()
			return m, nil
		case "d":
			m.prefs.FullDigests = !m.prefs.FullDigests
			m.refresh()
			return m, m.savePrefs()
		case "r":
			if m.source != nil && m.source.TriggerReconcile() {
				m.setStatus("Reconcile requested")
			} else {
				m.setStatus("Reconcile already pending or monitor not running")
			}
			return m, nil
		case "c":
			return m, m.copyPath()
		case "y":
			return m, m.copyFinding()
		}
		if m.showDetail {
			switch msg.String() {
			case "pgdown", "pgup", "J", "K":
				m.viewport, cmd = m.viewport.Update(msg)
				return m, cmd
			}
		}
		m.table, cmd = m.table.Update(msg)
		m.updateDetail()
		return m, cmd
	}
	return m, nil
}

func (m Model) counts() (high, med, low int) {
	for _, i := range m.visible {
		switch m.outcomes[i].Finding.Severity {
		case types.SevHigh:
			high++
		case types.SevMed:
			med++
		default:
			low++
		}
	}
	return high, med, low
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}
	if m.showHelp {
		help := strings.Join([]string{
			"j/k, up/down   move",
			"enter          toggle details",
			"/              search path or kind",
			"s              cycle severity filter",
			"esc            clear filters",
			"r              request reconcile",
			"c / y          copy path / finding",
			"d              toggle full digests",
			"q              quit",
		}, "\n")
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, popupStyle.Render(help))
	}

	root := ""
	if m.source != nil {
		root = m.source.Root()
	}
	state := m.state.String()
	if m.state == engine.Baselining || m.state == engine.Reconciling {
		state = m.spinner.View() + " " + state
	}
	header := titleStyle.Render("fimwatch") + fmt.Sprintf(" %s  [%s]", root, state)

	high, med, low := m.counts()
	stats := fmt.Sprintf("Showing: %d/%d  |  %s %-4d  |  %s %-4d  |  %s %-4d",
		len(m.visible), len(m.outcomes),
		sevHighStyle.Render("High:"), high,
		sevMedStyle.Render("Med:"), med,
		sevLowStyle.Render("Low:"), low)
	var filters []string
	if m.query != "" {
		filters = append(filters, fmt.Sprintf("search:'%s'", m.query))
	}
	if m.severityFilter != "" {
		filters = append(filters, "sev:"+severityText(m.severityFilter))
	}
	if len(filters) > 0 {
		stats += fmt.Sprintf("  [FILTER: %s]", strings.Join(filters, ", "))
	}
	if m.dropped > 0 {
		stats += fmt.Sprintf("  (%d older dropped)", m.dropped)
	}

	var body string
	if len(m.outcomes) == 0 {
		body = emptyTextStyle.Width(m.width - 4).Render("[OK] No changes since baseline")
	} else {
		body = tableBorderStyle.Render(m.table.View())
		if m.showDetail {
			body = lipgloss.JoinVertical(lipgloss.Left, body, tableBorderStyle.Render(m.viewport.View()))
		}
	}

	footer := m.statusMessage
	if m.searchMode {
		footer = m.search.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		stats,
		body,
		statusStyle.Width(m.width).Render(footer),
	)
}
