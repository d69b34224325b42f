// Package persistence implements the daemon's tabular file stores (config,
// state, log, trade) and the JSON notification queue file, all using the
// same atomic write protocol: write a sibling temp file, then rename over
// the target, retrying on failure. The CSV documents preserve comment and
// blank lines verbatim across rewrites so hand-edited files survive the
// daemon's own writes.
package persistence

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxWriteRetries = 3
	writeRetryWait  = 50 * time.Millisecond
)

// lineRow is one physical line of a tabular file: either verbatim text
// (a comment or a blank line) or a parsed data row.
type lineRow struct {
	raw    string   // exact original text, used only when fields == nil
	fields []string // parsed data row; nil for comment/blank lines
}

func (l lineRow) isData() bool { return l.fields != nil }

// Document is a line-preserving CSV file: a header, followed by an
// interleaving of data rows and verbatim comment/blank lines in their
// original order. Mutating a data row's fields in place, or appending a
// new one, never disturbs any other line.
type Document struct {
	Header []string
	lines  []lineRow
}

// LoadDocument reads path into a Document. A missing file yields an empty
// Document with no header (callers populate Header before first Save).
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc := &Document{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	headerSeen := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			doc.lines = append(doc.lines, lineRow{raw: line})
			continue
		}

		fields, err := parseCSVLine(line)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if !headerSeen {
			doc.Header = fields
			headerSeen = true
			continue
		}
		doc.lines = append(doc.lines, lineRow{fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return doc, nil
}

func parseCSVLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	return r.Read()
}

func renderCSVLine(fields []string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\r\n"), nil
}

// Rows returns the fields of every data row, in file order.
func (d *Document) Rows() [][]string {
	out := make([][]string, 0, len(d.lines))
	for _, l := range d.lines {
		if l.isData() {
			out = append(out, l.fields)
		}
	}
	return out
}

// FindRow returns the fields of the first data row whose column idCol
// equals id, and whether one was found.
func (d *Document) FindRow(idCol int, id string) ([]string, bool) {
	for _, l := range d.lines {
		if l.isData() && idCol < len(l.fields) && l.fields[idCol] == id {
			return l.fields, true
		}
	}
	return nil, false
}

// UpdateRow replaces the fields of the first data row whose column idCol
// equals id with newFields, preserving its position among comment/blank
// lines. Returns false if no matching row exists.
func (d *Document) UpdateRow(idCol int, id string, newFields []string) bool {
	for i, l := range d.lines {
		if l.isData() && idCol < len(l.fields) && l.fields[idCol] == id {
			d.lines[i] = lineRow{fields: newFields}
			return true
		}
	}
	return false
}

// AppendRow adds a new data row at the end of the document.
func (d *Document) AppendRow(fields []string) {
	d.lines = append(d.lines, lineRow{fields: fields})
}

// UpsertRow updates the row matching id in column idCol, or appends
// newFields as a new row if none matches.
func (d *Document) UpsertRow(idCol int, id string, newFields []string) {
	if d.UpdateRow(idCol, id, newFields) {
		return
	}
	d.AppendRow(newFields)
}

// Save serializes the document (header, then every line in original
// order, data rows re-rendered from their current fields) and writes it
// atomically to path: temp file in the same directory, then rename,
// retried up to maxWriteRetries times.
func (d *Document) Save(path string) error {
	var buf bytes.Buffer

	if len(d.Header) > 0 {
		line, err := renderCSVLine(d.Header)
		if err != nil {
			return fmt.Errorf("render header: %w", err)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	for _, l := range d.lines {
		if l.isData() {
			line, err := renderCSVLine(l.fields)
			if err != nil {
				return fmt.Errorf("render row: %w", err)
			}
			buf.WriteString(line)
		} else {
			buf.WriteString(l.raw)
		}
		buf.WriteByte('\n')
	}

	return atomicWrite(path, buf.Bytes())
}

// atomicWrite writes data to a sibling temp file and renames it over
// path, retrying on failure. The temp file lives in the target's own
// directory so the rename never crosses a filesystem boundary.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	var lastErr error
	for attempt := 0; attempt <= maxWriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(writeRetryWait)
		}
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			lastErr = fmt.Errorf("write temp file: %w", err)
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			lastErr = fmt.Errorf("rename into place: %w", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("atomic write %s failed after %d attempts: %w", path, maxWriteRetries+1, lastErr)
}

// AppendLine appends a single line to an append-only file: the log
// store's write path, one flush per write, never a rewrite.
func AppendLine(path string, line string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return f.Sync()
}

// WriteHeaderIfMissing creates path with just header if it does not
// already exist, so append-only files always start well-formed.
func WriteHeaderIfMissing(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	line, err := renderCSVLine(header)
	if err != nil {
		return err
	}
	return atomicWrite(path, []byte(line+"\n"))
}
