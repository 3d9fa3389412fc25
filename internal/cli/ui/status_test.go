package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	s := startStatus(&buf, "Sweeping jansSessId", true, time.Millisecond)
	s.Set("Sweeping jansToken")
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	out := buf.String()
	assert.Contains(t, out, "Sweeping jansToken")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"), out)

	written := buf.Len()
	s.Stop()
	assert.Equal(t, written, buf.Len())
}

func TestStatusDefaultInterval(t *testing.T) {
	s := StartStatus(&bytes.Buffer{}, "Sweeping", true)
	defer s.Stop()
	assert.Equal(t, statusInterval, s.every)
}

func TestTally(t *testing.T) {
	var buf bytes.Buffer
	tally := NewTally(&buf, "Importing entries", 4, true)
	tally.width = 8

	tally.Count(false)
	assert.True(t, strings.HasSuffix(buf.String(), "\rImporting entries [##......] 1/4"), buf.String())

	tally.Count(true)
	tally.Count(false)
	tally.Count(false)
	assert.Equal(t, 3, tally.Written())
	assert.Equal(t, 1, tally.Skipped())

	buf.Reset()
	tally.Finish()
	assert.Equal(t, "\rImporting entries [########] 4/4\n", buf.String())
}

func TestTallyEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	tally := NewTally(&buf, "Importing entries", 0, true)

	tally.Count(false)
	tally.Interrupt()
	tally.Finish()

	assert.Zero(t, buf.Len())
}
