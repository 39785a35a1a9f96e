package live

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"snore-detection/snore"
)

// Console prints the human readable status lines of the loop. Colours are
// only emitted when the writer is a terminal.
type Console struct {
	out     io.Writer
	alert   lipgloss.Style
	calm    lipgloss.Style
	notice  lipgloss.Style
	problem lipgloss.Style
}

func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		alert:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		calm:    r.NewStyle().Foreground(lipgloss.Color("#00ff9f")),
		notice:  r.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		problem: r.NewStyle().Foreground(lipgloss.Color("#ffaf00")),
	}
}

func (c *Console) Started() {
	fmt.Fprintln(c.out, "Live snore detection started (press Ctrl+C to stop)")
}

func (c *Console) Stopped() {
	fmt.Fprintln(c.out, "Detection stopped by user.")
}

func (c *Console) NoAudio() {
	fmt.Fprintln(c.out, c.notice.Render("No audio detected."))
}

func (c *Console) Error(err error) {
	fmt.Fprintln(c.out, c.problem.Render(fmt.Sprintf("Classification failed: %v", err)))
}

func (c *Console) Result(r snore.Result) {
	if r.IsSnoring {
		fmt.Fprintln(c.out, c.alert.Render(fmt.Sprintf("Snoring detected! (probability: %.2f)", r.Probability)))
		return
	}
	fmt.Fprintln(c.out, c.calm.Render(fmt.Sprintf("No snoring. (probability: %.2f)", r.Probability)))
}
