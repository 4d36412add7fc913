package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/patch-annotator/pkg/types"
)

// PatchLogName is the file name of the patch log inside the output directory
const PatchLogName = "patchlist.txt"

// ErrLogWrite is returned when a label cannot be written to the patch log
var ErrLogWrite = errors.New("patch log write failed")

// Schema is the field layout of a patch log line
type Schema int

const (
	// SchemaV1 is src;X;Y;size;structure;classes;labelingTime
	SchemaV1 Schema = 1
	// SchemaV2 is src;X;Y;size;structure;classes;ambiguous;labelingTime
	SchemaV2 Schema = 2
)

// fields returns the number of fields in a line of the schema
func (s Schema) fields() int {
	if s == SchemaV1 {
		return 7
	}
	return 8
}

// ParseSchema parses a schema version number
func ParseSchema(v int) (Schema, error) {
	switch v {
	case 1:
		return SchemaV1, nil
	case 2, 0:
		return SchemaV2, nil
	}
	return SchemaV2, fmt.Errorf("unknown patch log schema %d", v)
}

// PatchLog is the append-only label log of an output directory
type PatchLog struct {
	path   string
	schema Schema
}

// NewPatchLog returns the patch log of outputDir
func NewPatchLog(outputDir string, schema Schema) *PatchLog {
	return &PatchLog{
		path:   filepath.Join(outputDir, PatchLogName),
		schema: schema,
	}
}

// Path returns the log file path
func (l *PatchLog) Path() string {
	return l.path
}

// Exists reports whether the log file is present
func (l *PatchLog) Exists() bool {
	return fileExists(l.path)
}

// Append writes one line for the record
func (l *PatchLog) Append(r types.LabelRecord) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if _, err := f.WriteString(FormatRecord(r, l.schema) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	return nil
}

// AmendLast replaces the most recent line with the record. On an empty log
// it behaves like Append.
func (l *PatchLog) AmendLast(r types.LabelRecord) error {
	if err := l.dropLast(); err != nil {
		return err
	}
	return l.Append(r)
}

// dropLast truncates the log before its last line
func (l *PatchLog) dropLast() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return nil
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(l.path, int64(keep)); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	return nil
}

// Rotate renames an existing log to patchlist_<timestamp>.txt so a new log
// can be started. It returns the new name of the old log, or "" if there was
// no log.
func (l *PatchLog) Rotate(now time.Time) (string, error) {
	if !l.Exists() {
		return "", nil
	}
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	stamp := now.Format("20060102-150405")

	target := fmt.Sprintf("%s_%s%s", base, stamp, ext)
	for i := 1; fileExists(target); i++ {
		target = fmt.Sprintf("%s_%s-%d%s", base, stamp, i, ext)
	}
	if err := os.Rename(l.path, target); err != nil {
		return "", fmt.Errorf("failed to rotate patch log: %w", err)
	}
	return target, nil
}

// Records parses every line of the log
func (l *PatchLog) Records() ([]types.LabelRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open patch log: %w", err)
	}
	defer f.Close()

	var records []types.LabelRecord
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", l.path, lineNo, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read patch log: %w", err)
	}
	return records, nil
}

// FormatRecord renders a record as a log line without the trailing newline
func FormatRecord(r types.LabelRecord, schema Schema) string {
	fields := []string{
		r.Source,
		strconv.Itoa(r.X),
		strconv.Itoa(r.Y),
		strconv.Itoa(r.Size),
		strconv.Itoa(int(r.Structure)),
		formatScores(r.Classes),
	}
	if schema != SchemaV1 {
		fields = append(fields, formatFlags(r.Ambiguous))
	}
	fields = append(fields, FormatClock(r.LabelingTime))
	return strings.Join(fields, ";")
}

// ParseRecord parses a log line of either schema
func ParseRecord(line string) (types.LabelRecord, error) {
	parts := strings.Split(line, ";")
	schema := SchemaV2
	if len(parts) < SchemaV1.fields() {
		return types.LabelRecord{}, fmt.Errorf("expected at least %d fields, got %d", SchemaV1.fields(), len(parts))
	}
	// classes are bracketed; a V2 line carries a second bracketed field
	tail := parts[len(parts)-2]
	if !strings.HasPrefix(strings.TrimSpace(tail), "[") || !strings.HasPrefix(strings.TrimSpace(parts[len(parts)-3]), "[") {
		schema = SchemaV1
	}
	n := schema.fields()
	if len(parts) < n {
		return types.LabelRecord{}, fmt.Errorf("expected %d fields, got %d", n, len(parts))
	}
	// the source path may itself contain separators
	extra := len(parts) - n
	fields := append([]string{strings.Join(parts[:extra+1], ";")}, parts[extra+1:]...)

	var r types.LabelRecord
	var err error
	r.Source = fields[0]
	if r.X, err = strconv.Atoi(fields[1]); err != nil {
		return r, fmt.Errorf("invalid X: %w", err)
	}
	if r.Y, err = strconv.Atoi(fields[2]); err != nil {
		return r, fmt.Errorf("invalid Y: %w", err)
	}
	if r.Size, err = strconv.Atoi(fields[3]); err != nil {
		return r, fmt.Errorf("invalid size: %w", err)
	}
	s, err := strconv.Atoi(fields[4])
	if err != nil {
		return r, fmt.Errorf("invalid structure: %w", err)
	}
	r.Structure = types.Structure(s)
	if r.Classes, err = parseScores(fields[5]); err != nil {
		return r, err
	}
	timeField := fields[6]
	if schema == SchemaV2 {
		if r.Ambiguous, err = parseFlags(fields[6]); err != nil {
			return r, err
		}
		timeField = fields[7]
	}
	if r.LabelingTime, err = ParseClock(timeField); err != nil {
		return r, err
	}
	return r, nil
}

// FormatClock renders a duration as hh:mm:ss
func FormatClock(d time.Duration) string {
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

// ParseClock parses hh:mm:ss
func ParseClock(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid labelling time %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func formatScores(scores types.Scores) string {
	parts := make([]string, len(scores))
	for i, v := range scores {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		parts[i] = s
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatFlags(flags types.Ambiguous) string {
	parts := make([]string, len(flags))
	for i, v := range flags {
		if v {
			parts[i] = "True"
		} else {
			parts[i] = "False"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func splitList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid list %q", s)
	}
	items := strings.Split(s[1:len(s)-1], ",")
	if len(items) != types.NumClasses {
		return nil, fmt.Errorf("expected %d values in %q", types.NumClasses, s)
	}
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items, nil
}

func parseScores(s string) (types.Scores, error) {
	var scores types.Scores
	items, err := splitList(s)
	if err != nil {
		return scores, err
	}
	for i, item := range items {
		if scores[i], err = strconv.ParseFloat(item, 64); err != nil {
			return scores, fmt.Errorf("invalid class score %q", item)
		}
	}
	return scores, nil
}

func parseFlags(s string) (types.Ambiguous, error) {
	var flags types.Ambiguous
	items, err := splitList(s)
	if err != nil {
		return flags, err
	}
	for i, item := range items {
		switch strings.ToLower(item) {
		case "true", "1":
			flags[i] = true
		case "false", "0":
		default:
			return flags, fmt.Errorf("invalid ambiguous flag %q", item)
		}
	}
	return flags, nil
}
