package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/wippyai/incinerator/internal/scenario"
)

// historySize is how many past steps the monitor keeps on screen.
const historySize = 12

func newMonitorCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor <scenario.yaml>",
		Short: "Step through a scenario interactively",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.quiet = true
			return opts.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(opts, args[0])
		},
	}
}

type monitorModel struct {
	err      error
	ctx      context.Context
	stack    *stack
	player   *scenario.Player
	filename string
	history  []string
	next     scenario.Event
	spinner  spinner.Model
	out      printer
	pos      int
	total    int
	busy     bool
	auto     bool
	done     bool
}

type stepMsg struct {
	res scenario.Result
	ok  bool
}

func newMonitorModel(ctx context.Context, st *stack, player *scenario.Player, filename string) *monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle
	m := &monitorModel{
		ctx:      ctx,
		stack:    st,
		player:   player,
		filename: filename,
		spinner:  sp,
	}
	m.refresh()
	return m
}

// refresh copies the player position into the model. The player is only
// touched by the step command while busy, so View reads the copy.
func (m *monitorModel) refresh() {
	m.pos, m.total = m.player.Position()
	var ok bool
	m.next, ok = m.player.Peek()
	m.done = !ok
}

func (m *monitorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *monitorModel) step() tea.Msg {
	res, ok := m.player.Step(m.ctx)
	return stepMsg{res: res, ok: ok}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case " ", "enter", "n":
			if !m.busy && !m.done {
				m.busy = true
				return m, m.step
			}

		case "a":
			if !m.busy && !m.done {
				m.busy = true
				m.auto = true
				return m, m.step
			}
		}

	case stepMsg:
		m.busy = false
		m.refresh()
		if !msg.ok {
			m.auto = false
			return m, nil
		}
		if msg.res.Err != nil {
			m.err = msg.res.Err
		}
		m.history = append(m.history, m.out.describe(msg.res))
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
		if m.auto && !m.done {
			m.busy = true
			return m, m.step
		}
		m.auto = false

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *monitorModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("incinerator"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("event %d/%d", m.pos, m.total))
	if !m.done {
		b.WriteString("  next: ")
		b.WriteString(eventStyle.Render(m.next.String()))
	} else {
		b.WriteString("  " + resultStyle.Render("done"))
	}
	if m.busy {
		b.WriteString("  " + m.spinner.View())
	}
	b.WriteString("\n\n")

	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.history) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(m.out.loaderTable(m.player.Loaders()))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("passes %d • queued %d • live code modules %d\n",
		m.stack.engine.Passes(), m.stack.engine.QueueLen(), m.stack.code.Live()))

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space/enter step • a play all • q quit"))

	return b.String()
}

func runMonitor(opts *rootOptions, path string) error {
	ctx := context.Background()

	s, err := scenario.Load(path)
	if err != nil {
		return err
	}

	st := opts.newStack(ctx)
	defer st.Close(ctx)

	if !st.hook.Available() {
		return fmt.Errorf("engine unavailable: %w", st.hook.Err())
	}

	player, err := scenario.NewPlayer(ctx, st.engine, st.hook, st.code, s, filepath.Dir(path))
	if err != nil {
		return err
	}

	p := tea.NewProgram(newMonitorModel(ctx, st, player, filepath.Base(path)), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
