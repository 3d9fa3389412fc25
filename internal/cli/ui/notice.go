package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Kind is the severity of a Notice
type Kind int

const (
	Failure Kind = iota
	Caution
	Note
	Done
)

type mark struct {
	symbol string
	color  color.Attribute
}

var marks = map[Kind]mark{
	Failure: {"✗", color.FgRed},
	Caution: {"!", color.FgYellow},
	Note:    {"·", color.FgCyan},
	Done:    {"✓", color.FgGreen},
}

// Notice is one message for the terminal. The first line carries the title
// and the subject (an entry dn, key or setting); the rest is indented.
//
//	✗ ENTRY NOT FOUND uid=bob,ou=people,o=jans
//	  nothing is stored under this dn
//	  $ entrymap key uid=bob,ou=people,o=jans
type Notice struct {
	Kind    Kind
	Title   string
	Subject string
	Detail  string
	Impact  string
	Try     []string
	Next    []string
}

// Render formats the notice, with color unless noColor is set
func (n Notice) Render(noColor bool) string {
	m := marks[n.Kind]
	head := color.New(m.color, color.Bold)
	soft := color.New(m.color)
	dim := color.New(color.FgHiBlack)
	if noColor {
		head.DisableColor()
		soft.DisableColor()
		dim.DisableColor()
	}

	var b strings.Builder
	title := n.Title
	if n.Subject != "" {
		title += " " + n.Subject
	}
	head.Fprintf(&b, "%s %s\n", m.symbol, title)
	if n.Detail != "" {
		soft.Fprintf(&b, "  %s\n", n.Detail)
	}
	if n.Impact != "" {
		fmt.Fprintf(&b, "  %s\n", n.Impact)
	}
	if len(n.Try) > 0 {
		fmt.Fprintf(&b, "  try: %s\n", strings.Join(n.Try, " | "))
	}
	for _, c := range n.Next {
		dim.Fprintf(&b, "  $ %s\n", c)
	}
	return b.String()
}

// Fprint writes the rendered notice to w
func (n Notice) Fprint(w io.Writer, noColor bool) {
	fmt.Fprint(w, n.Render(noColor))
}

// Success reports a completed operation on one line
func Success(message string) Notice {
	return Notice{Kind: Done, Title: message}
}

// Inform reports a neutral outcome
func Inform(message string) Notice {
	return Notice{Kind: Note, Title: message}
}

// Warn reports rejected input along with accepted alternatives
func Warn(message string, try ...string) Notice {
	return Notice{Kind: Caution, Title: message, Try: try}
}

// EntryMissing reports a dn with no stored entry
func EntryMissing(dn string) Notice {
	n := Notice{
		Kind:    Failure,
		Title:   "ENTRY NOT FOUND",
		Subject: dn,
		Detail:  "nothing is stored under this dn",
		Next:    []string{"entrymap key " + dn},
	}
	if _, parent, ok := strings.Cut(dn, ","); ok && parent != "" {
		n.Next = append(n.Next, "entrymap search "+parent+" --scope one")
	}
	return n
}

// InvalidKey reports a dn that cannot be converted to a flat key. A bare
// value without '=' is offered back as a uid.
func InvalidKey(dn, reason string) Notice {
	n := Notice{
		Kind:    Failure,
		Title:   "INVALID KEY",
		Subject: dn,
		Detail:  reason,
		Next:    []string{"entrymap key --help"},
	}
	if first, _, _ := strings.Cut(dn, ","); first != "" && !strings.Contains(first, "=") {
		n.Try = []string{"uid=" + strings.TrimSpace(dn)}
	}
	return n
}

// BackendFailure reports an error raised by the storage backend. impact says
// what was left undone and may be empty.
func BackendFailure(backendType string, err error, impact string) Notice {
	return Notice{
		Kind:    Failure,
		Title:   "BACKEND FAILED",
		Subject: backendType,
		Detail:  err.Error(),
		Impact:  impact,
		Next: []string{
			"cat entrymap.yaml",
			"ENTRYMAP_LOG_LEVEL=debug entrymap ...",
		},
	}
}

// InvalidConfig reports a configuration that failed to load or validate.
// fixes lists corrected settings as "field: value".
func InvalidConfig(err error, fixes []string) Notice {
	return Notice{
		Kind:   Failure,
		Title:  "CONFIGURATION ERROR",
		Detail: err.Error(),
		Try:    fixes,
		Next: []string{
			"cat entrymap.yaml",
			"ENTRYMAP_BACKEND_TYPE=memory entrymap ...",
		},
	}
}
