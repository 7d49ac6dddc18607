package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/thehowl/dupescan/pkg/engine"
)

// DOCX extracts the paragraphs of a Word document. A .docx file is a zip
// container; the text lives in word/document.xml as <w:p> paragraphs made of
// <w:t> runs. Each non-empty paragraph becomes one Line. Page numbers follow
// the <w:lastRenderedPageBreak/> markers Word leaves behind (and explicit
// <w:br w:type="page"/> breaks); documents saved without them land on page 1.
func DOCX(r io.ReaderAt, size int64) (engine.LineStream, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("docx: opening container: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("docx: no word/document.xml in container")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: opening document.xml: %w", err)
	}
	defer rc.Close()

	lines, err := parseDocumentXML(rc)
	if err != nil {
		return nil, fmt.Errorf("docx: parsing document.xml: %w", err)
	}
	return Lines(lines), nil
}

func parseDocumentXML(r io.Reader) ([]engine.Line, error) {
	dec := xml.NewDecoder(r)

	var (
		lines   []engine.Line
		par     strings.Builder
		inText  bool
		page    = uint32(1)
		lineNo  = uint32(0)
		pending uint32 // page breaks seen inside the current paragraph
	)

	flush := func() {
		txt := par.String()
		par.Reset()
		if strings.TrimSpace(txt) != "" {
			lineNo++
			lines = append(lines, engine.Line{Text: txt, Page: page, LineNo: lineNo})
		}
		if pending > 0 {
			page += pending
			lineNo = 0
			pending = 0
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				par.WriteByte('\t')
			case "br":
				for _, attr := range el.Attr {
					if attr.Name.Local == "type" && attr.Value == "page" {
						pending++
					}
				}
			case "lastRenderedPageBreak":
				pending++
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				par.Write(el)
			}
		}
	}
	flush()
	return lines, nil
}
