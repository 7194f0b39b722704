// Package output renders command results for the terminal.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/service/coordinator"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

const timeLayout = "2006-01-02 15:04:05"

// Printer formats messages, coloring them when the terminal allows it.
type Printer struct {
	colorize bool
}

// New returns a printer; noColor forces plain output.
func New(noColor bool) *Printer {
	return &Printer{colorize: !noColor && !color.NoColor}
}

// Message formats a line with the color of kind.
func (p *Printer) Message(kind color.Attribute, tmpl string, a ...any) string {
	if !p.colorize || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	}

	return fmt.Sprintln(color.New(kind).SprintfFunc()(tmpl, a...))
}

// Table renders rows without borders.
func Table(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignLeft, tw.AlignLeft, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// Releases renders the revision directories of a host, newest first.
func (p *Printer) Releases(releases []release.Release) (string, error) {
	if len(releases) == 0 {
		return p.Message(Plain, "No releases found."), nil
	}

	data := make([][]string, 0, len(releases))

	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]

		var marker string

		switch {
		case r.Current:
			marker = p.paint(Success, release.CurrentLink)
		case r.Prev:
			marker = p.paint(Warning, release.PrevLink)
		}

		data = append(data, []string{r.Revision.String(), r.ModTime.Local().Format(timeLayout), marker})
	}

	table, err := Table([]string{"Revision", "Deployed At", "Link"}, data)
	if err != nil {
		return "", fmt.Errorf("printing release table: %w", err)
	}

	return table, nil
}

// Report summarizes a finished deploy.
func (p *Printer) Report(report *coordinator.Report, elapsed time.Duration) string {
	var b strings.Builder

	b.WriteString(p.Message(Success, "Deployed %s in %s", report.Revision, elapsed.Round(time.Millisecond)))

	if report.Before.Current != "" {
		b.WriteString(p.Message(Plain, "Previous release %s is kept as %s", report.Before.Current, release.PrevLink))
	}

	if report.InstalledInitScript {
		b.WriteString(p.Message(Plain, "Installed the init script"))
	}

	if report.Processes == "" {
		b.WriteString(p.Message(Warning, "No running process matched after start"))
	}

	if len(report.Pruned) > 0 {
		b.WriteString(p.Message(Plain, "Pruned %d old release(s)", len(report.Pruned)))
	}

	return b.String()
}

// Pruned lists removed or, for a dry run, expired revision directories.
func (p *Printer) Pruned(names []string, dryRun bool) string {
	if len(names) == 0 {
		return p.Message(Plain, "Nothing to prune.")
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}

	var b strings.Builder

	for _, name := range names {
		b.WriteString(p.Message(Warning, "%s %s", verb, name))
	}

	return b.String()
}

// State describes current and prev after a rollback.
func (p *Printer) State(state release.State) string {
	return p.Message(Success, "%s -> %s, %s -> %s",
		release.CurrentLink, state.Current, release.PrevLink, state.Prev)
}

func (p *Printer) paint(kind color.Attribute, s string) string {
	if !p.colorize {
		return s
	}

	return color.New(kind).Sprint(s)
}
