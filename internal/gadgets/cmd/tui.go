package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"gadgets/internal/gadget"
	"gadgets/internal/gadgets/styles"
	"gadgets/internal/report"
	"gadgets/internal/scan"
)

type viewMode int

const (
	viewList viewMode = iota
	viewDetail
)

type gadgetItem struct {
	g          gadget.Gadget
	summary    string
	filterTerm string
}

func (i gadgetItem) Title() string       { return i.summary }
func (i gadgetItem) FilterValue() string { return i.filterTerm }

// summarize joins the instruction column of each disassembly line, so
// "0000000000000000 5d  pop %rbp" becomes "pop %rbp".
func summarize(text string) string {
	var parts []string
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		parts = append(parts, strings.Join(fields[2:], " "))
	}
	return strings.Join(parts, "; ")
}

func newGadgetItem(g gadget.Gadget) gadgetItem {
	summary := summarize(g.Text)
	return gadgetItem{
		g:          g,
		summary:    summary,
		filterTerm: fmt.Sprintf("%x %s %s %s", g.Addr, g.Bytes, summary, report.Symbol(g.Symbol)),
	}
}

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(gadgetItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.Muted
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.Address
	}

	addr := report.Address(i.g)
	if addr == "" {
		addr = fmt.Sprintf("#%d", i.g.Seq)
	}
	line := fmt.Sprintf(" %s  %s  %s", indicator, addrStyle.Render(fmt.Sprintf("%-12s", addr)), i.summary)
	if sym := report.Symbol(i.g.Symbol); sym != "" {
		line += "  " + styles.Symbol.Render("<"+sym+">")
	}
	fmt.Fprint(w, line)
}

// progress is shared between the scan goroutine and the model copies.
type progress struct {
	done  atomic.Int64
	total atomic.Int64
}

type scanDoneMsg struct {
	res *scan.Result
	err error
}

type model struct {
	ctx      context.Context
	list     list.Model
	detail   viewport.Model
	spinner  spinner.Model
	mode     viewMode
	in       *input
	scanner  *scan.Scanner
	decoder  string
	progress *progress
	res      *scan.Result
	err      error
	scanning bool
	width    int
	height   int
}

func newModel(ctx context.Context, in *input, scanner *scan.Scanner, decoder string) model {
	l := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Title = "Gadgets"
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	l.SetShowHelp(true)

	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	p := &progress{}
	sc := *scanner
	sc.Progress = func(done, total int) {
		p.done.Store(int64(done))
		p.total.Store(int64(total))
	}

	return model{
		ctx:      ctx,
		list:     l,
		detail:   vp,
		spinner:  s,
		mode:     viewList,
		in:       in,
		scanner:  &sc,
		decoder:  decoder,
		progress: p,
		scanning: true,
		width:    80,
		height:   24,
	}
}

func scanCmd(ctx context.Context, s *scan.Scanner, streams [][]gadget.Token) tea.Cmd {
	return func() tea.Msg {
		res, err := s.ScanStreams(ctx, streams)
		return scanDoneMsg{res: res, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		scanCmd(m.ctx, m.scanner, m.in.streams),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case scanDoneMsg:
		m.scanning = false
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.res = msg.res
		items := make([]list.Item, 0, len(msg.res.Gadgets))
		for _, g := range msg.res.Gadgets {
			items = append(items, newGadgetItem(g))
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Gadgets (%d of %d windows)", msg.res.Stats.Accepted, msg.res.Stats.Windows)
		return m, nil

	case spinner.TickMsg:
		if !m.scanning {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 2)
		m.detail.SetWidth(msg.Width)
		m.detail.SetHeight(msg.Height - 2)
		if m.mode == viewDetail {
			m.showSelected()
		}
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.mode == viewList && m.showSelected() {
				m.mode = viewDetail
			}
			return m, nil
		case "tab":
			if m.mode == viewList {
				if m.showSelected() {
					m.mode = viewDetail
				}
			} else {
				m.mode = viewList
			}
			return m, nil
		case "esc":
			if m.mode == viewDetail {
				m.mode = viewList
				return m, nil
			}
		}
	}

	switch m.mode {
	case viewDetail:
		m.detail, cmd = m.detail.Update(msg)
	default:
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

// showSelected renders the selected gadget into the detail pane.
func (m *model) showSelected() bool {
	item, ok := m.list.SelectedItem().(gadgetItem)
	if !ok {
		return false
	}
	width := m.width
	if width == 0 {
		width = 80
	}
	md := report.GadgetMarkdown(item.g)
	if m.in != nil {
		md += fmt.Sprintf("\nfrom `%s`, decoder `%s`, window #%d\n", m.in.path, m.decoder, item.g.Seq)
	}
	content := md
	if r := styles.GetMarkdownRenderer(width - 2); r != nil {
		if rendered, err := r.Render(md); err == nil {
			content = strings.TrimSuffix(rendered, "\n")
		}
	}
	m.detail.SetContent(content)
	m.detail.GotoTop()
	return true
}

func (m model) View() string {
	var content string
	switch {
	case m.scanning:
		done, total := m.progress.done.Load(), m.progress.total.Load()
		content = fmt.Sprintf("\n  %s Scanning %s... %d/%d windows", m.spinner.View(), m.in.path, done, total)
	case m.mode == viewDetail:
		content = m.detail.View()
	default:
		content = m.list.View()
	}

	var menu string
	switch {
	case m.scanning:
		menu = " Q: quit "
	case m.mode == viewDetail:
		menu = " Esc/Tab: back • ↑/↓: scroll • Q: quit "
	default:
		menu = " Enter: details • /: filter • Tab: cycle • Q: quit "
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}
