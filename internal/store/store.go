// Package store reads and appends registry files.
//
// A registry file holds one record per line in the form
//
//	<name>=<unsigned-integer>
//
// Lines that do not parse are skipped, and when a name appears more than
// once the last line wins. Store functions do no locking; callers hold the
// registry lock around a Load and the Append that follows it.
package store

import (
	"io"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/zfair/zuid/zerrors"
)

const fileMode = 0644

// Record is one name/id pair of a registry.
type Record struct {
	Name string `json:"name"`
	ID   uint64 `json:"id"`
}

// Mapping is the content of a registry keyed by name.
type Mapping map[string]uint64

// Lookup returns the id recorded for name.
func (m Mapping) Lookup(name string) (uint64, bool) {
	id, ok := m[name]
	return id, ok
}

// Taken returns the set of ids held by any name.
func (m Mapping) Taken() map[uint64]struct{} {
	taken := make(map[uint64]struct{}, len(m))
	for _, id := range m {
		taken[id] = struct{}{}
	}
	return taken
}

// Records returns the mapping sorted by id, then by name.
func (m Mapping) Records() []Record {
	records := lo.MapToSlice(m, func(name string, id uint64) Record {
		return Record{Name: name, ID: id}
	})
	sort.Slice(records, func(i, j int) bool {
		if records[i].ID != records[j].ID {
			return records[i].ID < records[j].ID
		}
		return records[i].Name < records[j].Name
	})
	return records
}

// Load reads the registry at path. A missing file is an empty registry.
func Load(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Mapping{}, nil
		}
		return nil, zerrors.NewIOError("open", path, err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, zerrors.NewIOError("read", path, err)
	}
	return m, nil
}

// Parse reads a whole registry from r. Only read errors are returned.
func Parse(r io.Reader) (Mapping, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseString(string(buf)), nil
}

// ParseString builds a mapping from registry file contents.
func ParseString(contents string) Mapping {
	m := Mapping{}
	lines := strings.FieldsFunc(contents, func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	for _, line := range lines {
		if name, id, ok := parseLine(line); ok {
			m[name] = id
		}
	}
	return m
}

// parseLine takes the first two '='-separated fields of line; anything after
// a second '=' is ignored.
func parseLine(line string) (string, uint64, bool) {
	fields := strings.SplitN(line, "=", 3)
	if len(fields) < 2 {
		return "", 0, false
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return fields[0], id, true
}

// FormatRecord renders one registry line, including the trailing newline.
func FormatRecord(name string, id uint64) string {
	return name + "=" + strconv.FormatUint(id, 10) + "\n"
}

// Append adds a record at the end of the registry at path, creating the file
// if needed. A hand-edited file whose last line lacks a newline gets one
// first, so the new record never merges into it.
func Append(path, name string, id uint64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, fileMode)
	if err != nil {
		return zerrors.NewIOError("open", path, err)
	}
	line := FormatRecord(name, id)
	terminated, err := endsWithNewline(f)
	if err != nil {
		_ = f.Close()
		return zerrors.NewIOError("read", path, err)
	}
	if !terminated {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return zerrors.NewIOError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return zerrors.NewIOError("write", path, err)
	}
	return nil
}

func endsWithNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n' || last[0] == '\r', nil
}
