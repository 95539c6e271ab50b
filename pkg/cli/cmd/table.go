package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/term"
)

const (
	maxTableWidth = 200
	cellWrapWidth = 60
)

// writeTable renders rows under headers. Output to a terminal is sized to
// the terminal width.
func writeTable(writer io.Writer, headers []string, rows [][]string) error {
	wrapped := make([][]string, 0, len(rows))

	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, wordwrap.WrapString(cell, cellWrapWidth))
		}

		wrapped = append(wrapped, cells)
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers(headers...).
		Rows(wrapped...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}

			return lipgloss.NewStyle().Padding(0, 1)
		})

	if width, ok := terminalWidth(writer); ok {
		tbl = tbl.Width(min(width, maxTableWidth))
	}

	_, err := io.WriteString(writer, tbl.String()+"\n")
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	return nil
}

func terminalWidth(writer io.Writer) (int, bool) {
	file, ok := writer.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return 0, false
	}

	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return 0, false
	}

	return width, true
}
