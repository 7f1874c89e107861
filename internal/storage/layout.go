package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidGroup         = errors.New("invalid group")
	ErrNotFound             = errors.New("not found")
	ErrTooManyFiles         = errors.New("too many files")
	ErrIncompleteBatch      = errors.New("incomplete batch")
	ErrEmptyBatch           = errors.New("no files in batch")
	ErrEmptyFilename        = errors.New("empty filename")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrInvalidIndex         = errors.New("invalid slot index")
)

// IsInvalidInput reports whether err was caused by the caller's input rather than the server.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrInvalidGroup,
		ErrTooManyFiles,
		ErrIncompleteBatch,
		ErrEmptyBatch,
		ErrEmptyFilename,
		ErrUnsupportedExtension,
		ErrInvalidIndex,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type Convention string

const (
	// ConventionIndexed names slot files "007.jpg".
	ConventionIndexed Convention = "indexed"
	// ConventionGrouped names slot files "<group>_007.jpg".
	ConventionGrouped Convention = "grouped"
)

const stagingDirName = ".staging"

// Layout describes where and under which names slot files live.
type Layout struct {
	Root          string
	Groups        []string
	SlotsPerGroup int
	// Extensions in probe priority order, lower-case with leading dot.
	Extensions []string
	Convention Convention
	StartTime  time.Time
}

func (l Layout) GroupDir(group string) string {
	return filepath.Join(l.Root, group)
}

func (l Layout) StagingDir() string {
	return filepath.Join(l.Root, stagingDirName)
}

// SlotFilename builds the canonical filename of a slot for the given extension.
func (l Layout) SlotFilename(group string, index int, ext string) string {
	if l.Convention == ConventionGrouped {
		return fmt.Sprintf("%s_%03d%s", group, index, ext)
	}
	return fmt.Sprintf("%03d%s", index, ext)
}

// SlotTime is the display time of a slot: one hour per index after the start time.
func (l Layout) SlotTime(index int) time.Time {
	return l.StartTime.Add(time.Duration(index-1) * time.Hour)
}

// NormalizeExtension returns the lower-cased extension of name if it is allowed.
func (l Layout) NormalizeExtension(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", false
	}
	for _, allowed := range l.Extensions {
		if ext == allowed {
			return ext, true
		}
	}
	return ext, false
}

// ImageRecord describes one slot of a group. Placeholder records have no backing file.
type ImageRecord struct {
	Group       string
	Filename    string
	Index       int
	Time        time.Time
	Size        int64
	Placeholder bool
}

// Path is the group-relative path clients use to fetch the image.
func (r ImageRecord) Path() string {
	return r.Group + "/" + r.Filename
}
