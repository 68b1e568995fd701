package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/mdgx-bridge/binding"
	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/restraints"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	energyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInspectCmd(o *options) *cobra.Command {
	var sitesPath string
	cmd := &cobra.Command{
		Use:   "inspect <prmtop> <inpcrd>",
		Short: "move atoms interactively and watch energies and gradients",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.InvalidInput(errors.PhaseBinding, "inspect needs a terminal")
			}
			ctx := cmd.Context()
			sites, err := readSites(sitesPath)
			if err != nil {
				return err
			}

			eng, err := o.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close(ctx)

			mod := binding.New(binding.FromEngine(eng))
			defer mod.Close(ctx)

			h, err := mod.NewUform(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			m := newInspectModel(ctx, restraints.NewManager(mod.Bind(h)), filepath.Base(args[0]), sites)
			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
				return err
			}
			return mod.Release(ctx, h)
		},
	}
	cmd.Flags().StringVar(&sitesPath, "sites", "", "sites file: whitespace-separated coordinates, three per atom")
	_ = cmd.MarkFlagRequired("sites")
	return cmd
}

type inspectState int

const (
	stateSelectAtom inspectState = iota
	stateEditSite
)

type inspectModel struct {
	ctx      context.Context
	err      error
	mgr      *restraints.Manager
	energies *restraints.Energies
	title    string
	sites    []float64
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    inspectState
	// at most one evaluation is in flight; edits made meanwhile set stale
	evaluating bool
	stale      bool
}

type evaluatedMsg struct {
	err      error
	energies *restraints.Energies
}

func newInspectModel(ctx context.Context, mgr *restraints.Manager, title string, sites []float64) *inspectModel {
	return &inspectModel{
		ctx:   ctx,
		mgr:   mgr,
		title: title,
		sites: sites,
		state: stateSelectAtom,
	}
}

func (m *inspectModel) Init() tea.Cmd {
	return m.evaluate()
}

// evaluate snapshots the current sites and evaluates them off the update
// loop. While an evaluation is pending it only marks the result stale; the
// snapshot is taken again when the pending result arrives.
func (m *inspectModel) evaluate() tea.Cmd {
	if m.evaluating {
		m.stale = true
		return nil
	}
	m.evaluating = true
	m.stale = false
	sites := slices.Clone(m.sites)
	return func() tea.Msg {
		e, err := m.mgr.EnergiesSites(m.ctx, sites, true)
		return evaluatedMsg{energies: e, err: err}
	}
}

func (m *inspectModel) atoms() int {
	return len(m.sites) / 3
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateSelectAtom {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectAtom && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectAtom && m.selected < m.atoms()-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectAtom:
				m.prepareInputs()
				m.state = stateEditSite
				return m, nil
			case stateEditSite:
				if err := m.applyInputs(); err != nil {
					m.err = err
					return m, nil
				}
				m.err = nil
				m.inputs = nil
				m.state = stateSelectAtom
				return m, m.evaluate()
			}

		case "tab":
			if m.state == stateEditSite {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			if m.state == stateEditSite {
				m.state = stateSelectAtom
				m.inputs = nil
				m.err = nil
			}
		}

	case evaluatedMsg:
		m.evaluating = false
		m.err = msg.err
		if msg.err == nil {
			m.energies = msg.energies
		}
		if m.stale {
			return m, m.evaluate()
		}
	}

	if m.state == stateEditSite {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *inspectModel) prepareInputs() {
	m.inputs = make([]textinput.Model, 3)
	for i, axis := range []string{"x", "y", "z"} {
		ti := textinput.New()
		ti.Prompt = axis + ": "
		ti.SetValue(strconv.FormatFloat(m.sites[3*m.selected+i], 'g', -1, 64))
		ti.Width = 24
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// applyInputs writes the edited coordinates back into sites. Nothing changes
// unless all three parse.
func (m *inspectModel) applyInputs() error {
	var xyz [3]float64
	for i, input := range m.inputs {
		v, err := strconv.ParseFloat(strings.TrimSpace(input.Value()), 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", strings.TrimSuffix(input.Prompt, ": "), input.Value())
		}
		xyz[i] = v
	}
	copy(m.sites[3*m.selected:], xyz[:])
	return nil
}

func (m *inspectModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("mdgx inspect"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	if e := m.energies; e != nil {
		var summary strings.Builder
		_ = e.Show(&summary)
		b.WriteString(energyStyle.Render(strings.TrimRight(summary.String(), "\n")))
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(fmt.Sprintf("    gradient rms: %0.4f", e.GRMS())))
		b.WriteString("\n\n")
	} else {
		b.WriteString("Evaluating...\n\n")
	}

	var norms []float64
	if m.energies != nil {
		norms = atomNorms(m.energies.Gradients)
	}

	switch m.state {
	case stateSelectAtom:
		for i := 0; i < m.atoms(); i++ {
			line := fmt.Sprintf("%4d %8.3f%8.3f%8.3f", i+1, m.sites[3*i], m.sites[3*i+1], m.sites[3*i+2])
			if i < len(norms) {
				line += fmt.Sprintf("   |g| %0.4f", norms[i])
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter edit • q quit"))

	case stateEditSite:
		b.WriteString(fmt.Sprintf("Atom %s\n\n", labelStyle.Render(strconv.Itoa(m.selected+1))))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter evaluate • esc back"))
	}

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return b.String()
}
