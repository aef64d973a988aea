package fsworker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/infodancer/httpd/internal/wire"
)

// open resolves path and returns the response to send, plus the file to
// attach when the response is a regular file. Resolution happens on the
// canonical form of the path, so ".." and symlink traversal cannot escape
// the location whitelist.
func (w *Worker) open(path string) (wire.OpenResponse, *os.File) {
	canon, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return errResponse(errorKind(err)), nil
	}

	matched := match(w.locations, canon)
	if matched == nil || matched.Blocked {
		return errResponse(wire.ErrNotAllowed), nil
	}

	f, err := os.Open(canon)
	if err != nil {
		return errResponse(errorKind(err)), nil
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return errResponse(wire.ErrIo), nil
	}

	switch {
	case st.Mode().IsRegular():
		return wire.OpenResponse{
			Kind: wire.KindFile,
			File: &wire.FileInfo{Name: canon},
		}, f

	case st.IsDir():
		// Directory descriptors cannot be passed under pledge, so the
		// listing is materialized here.
		f.Close()
		entries, err := os.ReadDir(canon)
		if err != nil {
			return errResponse(wire.ErrIo), nil
		}
		infos := make([]wire.FileInfo, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, wire.FileInfo{Name: e.Name()})
		}
		return wire.OpenResponse{Kind: wire.KindDir, Entries: infos}, nil

	default:
		// Device, socket, fifo.
		f.Close()
		return errResponse(wire.ErrSpecialFile), nil
	}
}

// match returns the longest-prefix location covering path, or nil when
// none does. On equal-length prefixes the first configured location wins.
func match(locations []wire.Location, path string) *wire.Location {
	bestLen := 0
	var best *wire.Location
	for i := range locations {
		loc := &locations[i]
		if !hasPrefix(path, loc.Path) {
			continue
		}
		if len(loc.Path) > bestLen {
			bestLen = len(loc.Path)
			best = loc
		}
	}
	return best
}

// hasPrefix reports whether path falls under the location prefix. The
// prefix is compared byte-wise; configured locations end in "/" (enforced
// at config validation), so "/private/" cannot cover "/privateX".
func hasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

// errorKind maps an OS error to its wire classification. Raw OS errors
// never cross the process boundary.
func errorKind(err error) wire.ErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wire.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return wire.ErrNotAllowed
	default:
		return wire.ErrIo
	}
}

func errResponse(kind wire.ErrorKind) wire.OpenResponse {
	return wire.OpenResponse{Kind: wire.KindError, Err: kind}
}
