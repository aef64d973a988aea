// Package mimedb parses the traditional whitespace-separated mime.types
// format and answers extension lookups. The database is loaded once from
// a descriptor handed to the client worker by the manager and shared
// read-only between connections.
package mimedb

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultType is returned for extensions with no mapping.
const DefaultType = "application/octet-stream"

// DB maps file extensions to media types.
type DB struct {
	types map[string]string
}

// Parse reads a mime.types stream: '#' starts a comment line, blank lines
// are ignored, the first token of each line is the media type and the
// remaining tokens are extensions.
func Parse(r io.Reader) (*DB, error) {
	types := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		mediaType := fields[0]
		for _, ext := range fields[1:] {
			types[ext] = mediaType
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mime.types: %w", err)
	}

	return &DB{types: types}, nil
}

// Lookup returns the media type for name's extension, or DefaultType when
// the name has no extension or the extension is unknown.
func (db *DB) Lookup(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return DefaultType
	}
	if t, ok := db.types[name[idx+1:]]; ok {
		return t
	}
	return DefaultType
}

// Len returns the number of known extensions.
func (db *DB) Len() int {
	return len(db.types)
}
