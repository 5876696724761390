package batch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Suffixes shared by every synthetic input triplet. The notes file anchors the
// triplet; the ratings and enrollment paths are derived from its prefix.
const (
	NotesSuffix      = "-notes-00000.tsv"
	RatingsSuffix    = "-ratings-00000.tsv"
	EnrollmentSuffix = "_userEnrollment-00000.tsv"
)

// Dataset describes one synthetic input triplet plus the status file shared by
// every run of the batch.
type Dataset struct {
	Name           string
	NotesPath      string
	RatingsPath    string
	EnrollmentPath string
	StatusPath     string
}

// Derive builds a Dataset from the path of its notes file. The sibling ratings
// and enrollment paths share the notes file's prefix; their existence is
// checked at discovery time, not here.
func Derive(notesPath, statusPath string) (Dataset, error) {
	if !strings.HasSuffix(notesPath, NotesSuffix) {
		return Dataset{}, fmt.Errorf("notes file %q does not end in %q", notesPath, NotesSuffix)
	}

	prefix := strings.TrimSuffix(notesPath, NotesSuffix)
	if filepath.Base(prefix) == "" || strings.HasSuffix(prefix, string(filepath.Separator)) {
		return Dataset{}, fmt.Errorf("notes file %q has an empty dataset prefix", notesPath)
	}

	return Dataset{
		Name:           filepath.Base(prefix),
		NotesPath:      notesPath,
		RatingsPath:    prefix + RatingsSuffix,
		EnrollmentPath: prefix + EnrollmentSuffix,
		StatusPath:     statusPath,
	}, nil
}

// SiblingPaths returns the derived input files whose presence is required
// before the dataset may be scored.
func (d Dataset) SiblingPaths() []string {
	return []string{d.NotesPath, d.RatingsPath, d.EnrollmentPath, d.StatusPath}
}
