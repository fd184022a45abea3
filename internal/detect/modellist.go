package detect

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/artos/internal/fsutil"
)

// ErrInvalidModelList is returned for unreadable or malformed model lists.
var ErrInvalidModelList = errors.New("invalid model list file")

// ListEntry is one line of a model list file.
type ListEntry struct {
	ClassName string
	File      string
	Threshold float64
	SynsetID  string
}

// ParseModelList reads lines of "<class> <model file> <threshold> [synset]".
// Blank lines and lines starting with # are ignored. Relative model file
// paths are resolved against dir.
func ParseModelList(data []byte, dir string) ([]ListEntry, error) {
	var entries []ListEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("%w: line %d: expected 3 or 4 fields, got %d", ErrInvalidModelList, line, len(fields))
		}
		th, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bad threshold %q", ErrInvalidModelList, line, fields[2])
		}
		e := ListEntry{ClassName: fields[0], File: fields[1], Threshold: th}
		if len(fields) == 4 {
			e.SynsetID = fields[3]
		}
		if !filepath.IsAbs(e.File) {
			e.File = filepath.Join(dir, e.File)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelList, err)
	}
	return entries, nil
}

// ReadModelList loads a model list file.
func ReadModelList(fsys fsutil.FileSystem, path string) ([]ListEntry, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelList, err)
	}
	return ParseModelList(data, filepath.Dir(path))
}

// WriteModelList renders entries in the list file format, with file paths
// as given.
func WriteModelList(entries []ListEntry) []byte {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %g", e.ClassName, e.File, e.Threshold)
		if e.SynsetID != "" {
			b.WriteString(" " + e.SynsetID)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
