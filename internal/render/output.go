package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/itsmostafa/gosandbox/internal/host"
	"github.com/itsmostafa/gosandbox/internal/policy"
)

var (
	// titleStyle for bold headers
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// successStyle for allowed names
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	// errorStyle for error replies
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// promptStyle for the input prompts
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Padding(0, 1)

	headerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("33")).
			Padding(0, 1)
)

// Prompts shown before the first and the following lines of a submission.
const (
	PrimaryPrompt      = ">>> "
	ContinuationPrompt = "... "
)

// errorPrefixes mark replies that report a failure.
var errorPrefixes = []string{
	"SyntaxError:",
	"ImportDenied:",
	"internal error:",
}

// Header describes the attached console.
type Header struct {
	Name   string
	Engine string
	Policy *policy.Policy
}

// FormatHeader renders the attach banner with the console configuration.
func FormatHeader(w io.Writer, h Header) {
	content := fmt.Sprintf("%s\n%s %s  %s %d  %s %d\n%s",
		titleStyle.Render(h.Name),
		dimStyle.Render("Engine:"), titleStyle.Render(h.Engine),
		dimStyle.Render("Modules:"), len(h.Policy.Modules()),
		dimStyle.Render("Builtins:"), len(h.Policy.ExposedBuiltins()),
		dimStyle.Render("Blank line submits, Ctrl-C discards, Ctrl-D exits."),
	)
	fmt.Fprintln(w, headerBoxStyle.Render(content))
}

// Prompt returns the styled prompt for a line. continuation selects the
// prompt used inside an unfinished submission.
func Prompt(continuation bool) string {
	if continuation {
		return promptStyle.Render(ContinuationPrompt)
	}
	return promptStyle.Render(PrimaryPrompt)
}

// FormatReply writes the console's output, styling failure replies.
// verbose adds the round-trip time.
func FormatReply(w io.Writer, reply host.Reply, verbose bool) {
	if reply.Output != "" {
		if IsError(reply.Output) {
			fmt.Fprintln(w, errorStyle.Render(reply.Output))
		} else {
			fmt.Fprintln(w, reply.Output)
		}
	}
	if verbose {
		fmt.Fprintln(w, dimStyle.Render(formatElapsed(reply.Elapsed)))
	}
}

// IsError reports whether output reads as a failure reply.
func IsError(output string) bool {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	last := lines[len(lines)-1]
	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(last, prefix) {
			return true
		}
	}
	return false
}

// FormatPolicy renders the effective allowlist.
func FormatPolicy(w io.Writer, p *policy.Policy) {
	content := titleStyle.Render("Modules") + "\n" + formatNames(p.Modules()) +
		"\n\n" + titleStyle.Render("Builtins") + "\n" + formatNames(p.ExposedBuiltins())
	fmt.Fprintln(w, boxStyle.Render(content))
}

// FormatInterrupted notes that the pending submission was discarded.
func FormatInterrupted(w io.Writer) {
	fmt.Fprintln(w, dimStyle.Render("discarded"))
}

// formatNames lays names out a few per line.
func formatNames(names []string) string {
	if len(names) == 0 {
		return dimStyle.Render("(none)")
	}
	const perLine = 6
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			if i%perLine == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteString(successStyle.Render(name))
	}
	return b.String()
}

// formatElapsed prints sub-second durations in milliseconds
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
