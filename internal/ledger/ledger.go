// Package ledger is the append-only CSV backup of enrichment results. Every
// record is synced to disk before Append returns, so a job killed at any
// point resumes from the last appended row.
package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/model"
)

// Header is the first line of every ledger.
var Header = []string{"STT Goc", "Ma Kho 2", "Tinh", "Ten Cua Hang", "Dia Chi", "Link Map", "Toa Do"}

const fieldCount = 7

// FileName returns the ledger file name for a job key.
func FileName(jobKey string) string {
	return "Backup_" + jobKey + ".csv"
}

// PathFor returns the ledger path for a job key under dir.
func PathFor(dir, jobKey string) string {
	return filepath.Join(dir, FileName(jobKey))
}

// KeyFromPath recovers the job key from a ledger path. ok is false when the
// file name does not follow FileName.
func KeyFromPath(path string) (key string, ok bool) {
	name := filepath.Base(path)
	key, ok = strings.CutPrefix(name, "Backup_")
	if !ok {
		return "", false
	}
	key, ok = strings.CutSuffix(key, ".csv")
	return key, ok && key != ""
}

// Ledger appends records to one CSV file.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens or creates the ledger at path. A partially written trailing
// record is cut off, and a header is written to a new file.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "ledger: create dir for %s", path)
	}
	if err := repair(path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: open %s", path)
	}
	l := &Ledger{path: path, f: f}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "ledger: stat %s", path)
	}
	if info.Size() == 0 {
		if err := l.writeLine(formatHeader()); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path returns the file path.
func (l *Ledger) Path() string { return l.path }

// Append writes one record and syncs it to disk.
func (l *Ledger) Append(rec model.EnrichmentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return eris.New("ledger: append to closed ledger")
	}
	return l.writeLine(formatRecord(rec))
}

func (l *Ledger) writeLine(line string) error {
	if _, err := l.f.WriteString(line); err != nil {
		return eris.Wrapf(err, "ledger: write %s", l.path)
	}
	if err := l.f.Sync(); err != nil {
		return eris.Wrapf(err, "ledger: sync %s", l.path)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return eris.Wrapf(err, "ledger: close %s", l.path)
	}
	return nil
}

// quote escapes s for a quoted field. CRLF is written as LF since the CSV
// reader drops the CR on the way back in.
func quote(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func formatHeader() string {
	return strings.Join(Header, ",") + "\n"
}

// formatRecord renders the row index bare and every other field quoted.
func formatRecord(rec model.EnrichmentRecord) string {
	fields := []string{
		strconv.Itoa(rec.RowIndex),
		quote(rec.WarehouseCode),
		quote(rec.Province),
		quote(rec.ShopName),
		quote(rec.Address),
		quote(rec.MapLink),
		quote(rec.Coordinates),
	}
	return strings.Join(fields, ",") + "\n"
}

// Read parses every complete record in the ledger at path. A missing file
// yields no records.
func Read(path string) ([]model.EnrichmentRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: read %s", path)
	}
	recs, _ := parse(data, path)
	return recs, nil
}

// LoadSkipSet returns the row indices already recorded at path.
func LoadSkipSet(path string) (map[int]struct{}, error) {
	recs, err := Read(path)
	if err != nil {
		return nil, err
	}
	skip := make(map[int]struct{}, len(recs))
	for _, r := range recs {
		skip[r.RowIndex] = struct{}{}
	}
	return skip, nil
}

// parse returns the records in data and the byte offset just past the last
// newline. Bytes after it are a partially written record. A line that fails
// to decode is logged and skipped; it never hides the lines after it.
func parse(data []byte, path string) ([]model.EnrichmentRecord, int64) {
	good := int64(bytes.LastIndexByte(data, '\n') + 1)
	if int(good) < len(data) {
		zap.L().Warn("ledger: ignoring truncated tail",
			zap.String("path", path),
			zap.Int64("offset", good),
			zap.Int("bytes", len(data)-int(good)),
		)
	}

	var recs []model.EnrichmentRecord
	var offset int64
	for _, seg := range splitRecords(data[:good]) {
		rec, err := decode(seg)
		switch {
		case err == nil:
			recs = append(recs, rec)
		case errors.Is(err, errHeader):
		default:
			// An unbalanced quote swallows the lines after it; retry them one
			// by one.
			lines := bytes.SplitAfter(seg, []byte("\n"))
			if len(lines) > 1 && len(lines[len(lines)-1]) == 0 {
				lines = lines[:len(lines)-1]
			}
			if len(lines) == 1 {
				warnMalformed(path, offset)
				break
			}
			lineOffset := offset
			for _, line := range lines {
				rec, err := decode(line)
				switch {
				case err == nil:
					recs = append(recs, rec)
				case errors.Is(err, errHeader):
				default:
					warnMalformed(path, lineOffset)
				}
				lineOffset += int64(len(line))
			}
		}
		offset += int64(len(seg))
	}
	return recs, good
}

func warnMalformed(path string, offset int64) {
	zap.L().Warn("ledger: skipping malformed line",
		zap.String("path", path),
		zap.Int64("offset", offset),
	)
}

// splitRecords cuts data at every newline outside a quoted field. Each
// segment keeps its terminating newline.
func splitRecords(data []byte) [][]byte {
	var (
		segs     [][]byte
		start    int
		inQuotes bool
	)
	for i, b := range data {
		switch b {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if !inQuotes {
				segs = append(segs, data[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(data) {
		segs = append(segs, data[start:])
	}
	return segs
}

var (
	errHeader    = errors.New("ledger: header line")
	errMalformed = errors.New("ledger: malformed record")
)

// decode parses seg as exactly one record. Stray quotes inside a quoted
// field are read literally.
func decode(seg []byte) (model.EnrichmentRecord, error) {
	r := csv.NewReader(bytes.NewReader(seg))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	all, err := r.ReadAll()
	if err != nil {
		return model.EnrichmentRecord{}, err
	}
	if len(all) != 1 {
		return model.EnrichmentRecord{}, errMalformed
	}
	fields := all[0]
	if len(fields) > 0 && fields[0] == Header[0] {
		return model.EnrichmentRecord{}, errHeader
	}
	rec, ok := recordFromFields(fields)
	if !ok {
		return model.EnrichmentRecord{}, errMalformed
	}
	return rec, nil
}

func recordFromFields(fields []string) (model.EnrichmentRecord, bool) {
	if len(fields) != fieldCount {
		return model.EnrichmentRecord{}, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || idx <= 0 {
		return model.EnrichmentRecord{}, false
	}
	return model.EnrichmentRecord{
		RowIndex:      idx,
		WarehouseCode: fields[1],
		Province:      fields[2],
		ShopName:      fields[3],
		Address:       fields[4],
		MapLink:       fields[5],
		Coordinates:   fields[6],
		Status:        model.StatusFromLink(fields[5]),
	}, true
}

// repair cuts a partially written record off the end of path. Nothing before
// the last newline is removed.
func repair(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "ledger: read %s", path)
	}
	_, good := parse(data, path)
	if int(good) == len(data) {
		return nil
	}
	if err := os.Truncate(path, good); err != nil {
		return eris.Wrapf(err, "ledger: truncate %s", path)
	}
	zap.L().Info("ledger: repaired truncated ledger",
		zap.String("path", path),
		zap.Int64("size", good),
	)
	return nil
}
