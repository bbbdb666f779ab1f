// Package cli prints the styled startup banner and fatal errors of shadowd.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#5FD7FF")
	errorColor   = lipgloss.Color("#FF5F5F")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)
)

// Field is one key/value row of the banner.
type Field struct {
	Key   string
	Value string
}

// PrintBanner writes the startup summary to w.
func PrintBanner(w io.Writer, version string, fields []Field) {
	fmt.Fprintln(w, TitleStyle.Render("shadowd "+version))
	for _, f := range fields {
		fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(f.Key+":"), ValueStyle.Render(f.Value))
	}
	fmt.Fprintln(w)
}

func PrintVersion(version, commit, date string) {
	fmt.Println(TitleStyle.Render("shadowd"))
	fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
	fmt.Printf("%s %s\n", KeyStyle.Render("Commit:"), ValueStyle.Render(commit))
	fmt.Printf("%s %s\n", KeyStyle.Render("Built:"), ValueStyle.Render(date))
}

func PrintError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("Error:"), message)
}
