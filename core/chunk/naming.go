// Package chunk stages uploaded byte-range chunks and assembles them into a
// single media file.
package chunk

import (
	"path/filepath"
	"strconv"
	"strings"

	"TrackHub/errs"

	"github.com/google/uuid"
)

// partMarker separates a chunk's base name from its part index.
const partMarker = ".part"

// Part is one staged chunk as found on disk.
type Part struct {
	Name  string // file name in the staging directory
	Base  string // name with the part suffix removed
	Index int
}

// ParsePartName splits a staged file name into base name and part index.
// "<base>.part<N>" yields index N. A name ending in one of primaryExts has no
// suffix and yields index 0. Anything else is not a chunk.
func ParsePartName(name string, primaryExts []string) (Part, bool) {
	if base, n, ok := splitPartSuffix(name); ok {
		return Part{Name: name, Base: base, Index: n}, true
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(name) == len(ext) {
		return Part{}, false
	}
	for _, p := range primaryExts {
		if strings.EqualFold(p, ext) {
			return Part{Name: name, Base: name, Index: 0}, true
		}
	}
	return Part{}, false
}

// splitPartSuffix splits "<base>.part<N>" into base and N.
func splitPartSuffix(name string) (string, int, bool) {
	i := strings.LastIndex(name, partMarker)
	if i <= 0 {
		return "", 0, false
	}
	digits := name[i+len(partMarker):]
	if !isDigits(digits) {
		return "", 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return name[:i], n, true
}

// validBase reports whether base can name the merged file inside the
// track's work directory.
func validBase(base string) bool {
	return base != "" && base != "." && base != ".."
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateTrackID checks that id is a UUID so it is safe to use as a
// directory and object-key segment.
func ValidateTrackID(id string) error {
	if id == "" {
		return errs.Invalid("trackId is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errs.Invalid("trackId %q is not a valid UUID", id)
	}
	return nil
}

// ValidateName checks that a caller supplied chunk name is a plain file name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errs.Invalid("chunk name %q is not allowed", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return errs.Invalid("chunk name %q must not contain path separators", name)
	}
	if strings.HasPrefix(name, tempPrefix) {
		return errs.Invalid("chunk name %q uses a reserved prefix", name)
	}
	if base, _, ok := splitPartSuffix(name); ok && !validBase(base) {
		return errs.Invalid("chunk name %q has no usable base name", name)
	}
	return nil
}
