package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// ValueSeparator joins the values of a multi-valued attribute for display
const ValueSeparator = "; "

// Table renders rows in aligned columns under a header and a rule
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a table with the given headers
func NewTable(w io.Writer, headers []string, noColor bool) *Table {
	return &Table{
		writer:  w,
		headers: headers,
		noColor: noColor,
	}
}

// AddRow adds a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table. Nothing is written without headers.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if t.noColor {
		bold.DisableColor()
		gray.DisableColor()
	}

	last := len(widths) - 1
	for i, header := range t.headers {
		if i == last {
			bold.Fprintln(t.writer, header)
			break
		}
		bold.Fprint(t.writer, padRight(header, widths[i])+"  ")
	}

	rules := make([]string, len(widths))
	for i, width := range widths {
		rules[i] = strings.Repeat("─", width)
	}
	gray.Fprintln(t.writer, strings.Join(rules, "  "))

	for _, row := range t.rows {
		cells := make([]string, len(widths))
		for i := range widths {
			if i < len(row) {
				cells[i] = row[i]
			}
			if i < last {
				cells[i] = padRight(cells[i], widths[i])
			}
		}
		fmt.Fprintln(t.writer, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// padRight pads s with spaces to width runes
func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// EntryView renders one entry as its dn followed by aligned attribute lines:
//
//	dn: uid=bob,ou=people,o=jans
//	  mail:        bob@x.org; b@x.org
//	  objectClass: jansPerson
type EntryView struct {
	writer  io.Writer
	dn      string
	rows    []attributeRow
	noColor bool
}

type attributeRow struct {
	name   string
	values []string
}

// NewEntryView creates a view of the entry stored under dn
func NewEntryView(w io.Writer, dn string, noColor bool) *EntryView {
	return &EntryView{
		writer:  w,
		dn:      dn,
		noColor: noColor,
	}
}

// Add appends an attribute line
func (v *EntryView) Add(name string, values []string) {
	v.rows = append(v.rows, attributeRow{name: name, values: values})
}

// Render writes the entry
func (v *EntryView) Render() {
	green := color.New(color.FgGreen, color.Bold)
	cyan := color.New(color.FgCyan)
	if v.noColor {
		green.DisableColor()
		cyan.DisableColor()
	}

	green.Fprintf(v.writer, "dn: %s\n", v.dn)

	width := 0
	for _, row := range v.rows {
		if n := utf8.RuneCountInString(row.name) + 1; n > width {
			width = n
		}
	}
	for _, row := range v.rows {
		cyan.Fprint(v.writer, "  "+padRight(row.name+":", width))
		fmt.Fprintf(v.writer, " %s\n", strings.Join(row.values, ValueSeparator))
	}
}
