package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"DN", "ATTRIBUTE", "VALUES"}, true)

	table.AddRow("uid=bob,ou=people,o=jans", "mail", "a@x; b@x")
	table.AddRow("", "uid", "bob")
	table.AddRow("uid=ann,ou=people,o=jans", "uid")

	table.Render()

	expected := strings.Join([]string{
		"DN                        ATTRIBUTE  VALUES",
		"────────────────────────  ─────────  ────────",
		"uid=bob,ou=people,o=jans  mail       a@x; b@x",
		"                          uid        bob",
		"uid=ann,ou=people,o=jans  uid",
		"",
	}, "\n")
	if buf.String() != expected {
		t.Errorf("unexpected table output:\n%s\nwant:\n%s", buf.String(), expected)
	}
	if table.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", table.Len())
	}
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{}, true)

	table.Render()

	output := buf.String()
	if output != "" {
		t.Errorf("Expected empty output for table with no headers, got: %q", output)
	}
}

func TestTableMultibyteAlignment(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"NAME", "VALUE"}, true)
	table.AddRow("displayName#fr", "Bébé")
	table.AddRow("cn", "x")

	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[3], "cn              x") {
		t.Errorf("column not aligned: %q", lines[3])
	}
}

func TestEntryView(t *testing.T) {
	var buf bytes.Buffer
	view := NewEntryView(&buf, "uid=bob,ou=people,o=jans", true)
	view.Add("mail", []string{"bob@x.org", "b@x.org"})
	view.Add("objectClass", []string{"jansPerson"})
	view.Add("uid", []string{"bob"})

	view.Render()

	expected := strings.Join([]string{
		"dn: uid=bob,ou=people,o=jans",
		"  mail:        bob@x.org; b@x.org",
		"  objectClass: jansPerson",
		"  uid:         bob",
		"",
	}, "\n")
	if buf.String() != expected {
		t.Errorf("unexpected entry output:\n%s\nwant:\n%s", buf.String(), expected)
	}
}

func TestEntryViewNoAttributes(t *testing.T) {
	var buf bytes.Buffer
	NewEntryView(&buf, "ou=people,o=jans", true).Render()

	if buf.String() != "dn: ou=people,o=jans\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		input    string
		width    int
		expected string
	}{
		{"test", 10, "test      "},
		{"test", 4, "test"},
		{"test", 2, "test"},
		{"", 5, "     "},
		{"é", 3, "é  "},
	}

	for _, tt := range tests {
		result := padRight(tt.input, tt.width)
		if result != tt.expected {
			t.Errorf("padRight(%q, %d) = %q; want %q", tt.input, tt.width, result, tt.expected)
		}
	}
}
