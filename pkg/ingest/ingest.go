// Package ingest provides concrete engine.LineStream extractors: plain text
// and DOCX. The engine itself never depends on this package; anything able to
// produce a line stream can feed a comparison.
package ingest

import (
	"bufio"
	"io"
	"strings"

	"github.com/thehowl/dupescan/pkg/engine"
)

// DefaultLinesPerPage is the synthetic page size used when a format carries
// no page information of its own.
const DefaultLinesPerPage = 50

// lineSlice is a LineStream over an already-extracted slice.
type lineSlice struct {
	lines []engine.Line
	pos   int
}

func (s *lineSlice) Next() (engine.Line, bool, error) {
	if s.pos >= len(s.lines) {
		return engine.Line{}, false, nil
	}
	ln := s.lines[s.pos]
	s.pos++
	return ln, true, nil
}

// Lines wraps an extracted slice as a LineStream.
func Lines(lines []engine.Line) engine.LineStream {
	return &lineSlice{lines: lines}
}

// Plain extracts a plain-text document: one Line per newline-delimited line,
// blank lines filtered out. Plain text has no pages, so they are synthesized
// at DefaultLinesPerPage non-blank lines each.
func Plain(r io.Reader) (engine.LineStream, error) {
	return PlainPaged(r, DefaultLinesPerPage)
}

// PlainPaged is Plain with a caller-chosen synthetic page size.
func PlainPaged(r io.Reader, linesPerPage int) (engine.LineStream, error) {
	if linesPerPage < 1 {
		linesPerPage = 1
	}
	var lines []engine.Line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		txt := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(txt) == "" {
			continue
		}
		lines = append(lines, engine.Line{
			Text:   txt,
			Page:   uint32(n/linesPerPage) + 1,
			LineNo: uint32(n%linesPerPage) + 1,
		})
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return Lines(lines), nil
}
