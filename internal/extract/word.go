package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDocx reads the main document part, emitting a newline per paragraph and
// line break.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			part = f
			break
		}
	}
	if part == nil {
		return "", errors.New("missing " + docxBody)
	}

	rc, err := part.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// extractDoc recovers text from legacy binary Word files by collecting printable
// runs, read both as single-byte and as UTF-16LE text.
func extractDoc(data []byte) string {
	const minRun = 4

	var runs []string
	collect := func(run []rune) {
		if len(run) >= minRun && strings.TrimSpace(string(run)) != "" {
			runs = append(runs, string(run))
		}
	}

	var run []rune
	for _, c := range data {
		if isPrintable(rune(c)) {
			run = append(run, rune(c))
			continue
		}
		collect(run)
		run = run[:0]
	}
	collect(run)

	if wide := utf16Runs(data, minRun); len(wide) > 0 {
		runs = append(wide, runs...)
	}
	return strings.Join(dedupe(runs), "\n")
}

func utf16Runs(data []byte, minRun int) []string {
	var (
		out []string
		run []rune
	)
	for i := 0; i+1 < len(data); i += 2 {
		r := rune(data[i]) | rune(data[i+1])<<8
		if isPrintable(r) || (r >= 0x00a0 && r <= 0x024f) {
			run = append(run, r)
			continue
		}
		if len(run) >= minRun && strings.TrimSpace(string(run)) != "" {
			out = append(out, string(run))
		}
		run = run[:0]
	}
	if len(run) >= minRun && strings.TrimSpace(string(run)) != "" {
		out = append(out, string(run))
	}
	return out
}

func isPrintable(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' || (r >= 0x20 && r < 0x7f)
}

func dedupe(runs []string) []string {
	seen := make(map[string]bool, len(runs))
	out := runs[:0]
	for _, r := range runs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
