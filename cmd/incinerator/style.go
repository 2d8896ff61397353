package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/internal/scenario"
	"github.com/wippyai/incinerator/sweep"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

// printer renders styled output, or plain text when stdout is not a
// terminal.
type printer struct {
	plain bool
}

func newPrinter() printer {
	return printer{plain: !term.IsTerminal(int(os.Stdout.Fd()))}
}

func (p printer) paint(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p printer) stateStyle(s incinerator.State) lipgloss.Style {
	switch s {
	case incinerator.Swept:
		return resultStyle
	case incinerator.PendingSweep:
		return warnStyle
	case incinerator.MarkedStale:
		return eventStyle
	default:
		return cellStyle
	}
}

// loaderTable renders the loader views as a table.
func (p printer) loaderTable(views []scenario.LoaderView) string {
	t := table.New().Headers("LOADER", "STATE", "PENDING", "HANDLES", "QUEUED")
	if p.plain {
		t = t.Border(lipgloss.ASCIIBorder())
	} else {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(helpStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 1 && row >= 0 && row < len(views) {
					return p.stateStyle(views[row].State).Padding(0, 1)
				}
				return cellStyle
			})
	}

	for _, v := range views {
		queued := "-"
		if v.Queued {
			queued = "yes"
		}
		t = t.Row(v.Name, v.State.String(),strconv.FormatInt(v.Pending, 10), strconv.Itoa(v.Handles), queued)
	}
	return t.String()
}

// describe renders the outcome of one replayed event.
func (p printer) describe(res scenario.Result) string {
	head := fmt.Sprintf("[%02d] %s", res.Index, p.paint(eventStyle, res.Event.String()))

	switch {
	case res.Err != nil:
		return head + "  " + p.paint(errorStyle, res.Err.Error())
	case res.Report != nil:
		return head + "  " + p.reportLine(*res.Report)
	case res.Event.Op == scenario.OpMark || res.Event.Op == scenario.OpUnload:
		if res.Marked {
			return head + "  " + p.paint(resultStyle, "transitioned")
		}
		return head + "  " + p.paint(helpStyle, "ignored")
	case res.Event.Op == scenario.OpExpect:
		return head + "  " + p.paint(resultStyle, "ok")
	default:
		return head
	}
}

func (p printer) reportLine(r sweep.Report) string {
	if r.Empty() {
		return p.paint(helpStyle, "nothing queued")
	}
	line := fmt.Sprintf("swept %d, requeued %d, skipped %d, released %d",
		len(r.Swept), len(r.Requeued), len(r.Skipped), r.Released)
	if len(r.Failures) > 0 {
		return p.paint(warnStyle, fmt.Sprintf("%s, %d release failures", line, len(r.Failures)))
	}
	return p.paint(resultStyle, line)
}
