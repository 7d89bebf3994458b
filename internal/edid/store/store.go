// Package store keeps saved EDIDs as raw .bin files in one directory and
// screens new ones against the stored content.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/sirupsen/logrus"
)

const (
	Extension   = ".bin"
	defaultName = "edid"
)

var (
	ErrDuplicateContent = errors.New("EDID already exists")
	ErrFilenameExists   = errors.New("filename already exists")
	ErrNotFound         = errors.New("saved EDID not found")
)

// DuplicateError names the stored file holding the same bytes.
type DuplicateError struct {
	Filename string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v (content match): %s", ErrDuplicateContent, e.Filename)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateContent
}

type Match struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Exact    bool   `json:"exact"`
	Hash     string `json:"hash"`
}

type Entry struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
}

type SaveOptions struct {
	Overwrite bool
	// Strict validates every block instead of the base block checksum only.
	Strict bool
}

type Store struct {
	lock sync.Mutex
	dir  string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Hash is the hex SHA-256 of the EDID bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename turns a user label into a safe lowercase file name.
func SanitizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return defaultName
	}
	return name
}

func ensureExtension(name string) string {
	if !strings.HasSuffix(name, Extension) {
		return name + Extension
	}
	return name
}

func (s *Store) binFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to list %s: %w", s.dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FindMatches returns every stored file whose content equals data, in file
// name order. A missing directory has no matches.
func (s *Store) FindMatches(data []byte) ([]Match, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.findMatches(data)
}

func (s *Store) findMatches(data []byte) ([]Match, error) {
	if len(data) < edid.BlockSize {
		return nil, fmt.Errorf("%w: %d bytes, cannot compare", edid.ErrTooShort, len(data))
	}

	names, err := s.binFiles()
	if err != nil {
		return nil, err
	}

	hash := Hash(data)
	matches := []Match{}
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			logrus.Warnf("Skip unreadable EDID file %s: %v", path, err)
			continue
		}
		if len(content) != len(data) || Hash(content) != hash {
			continue
		}
		// Hash equality is only a screen.
		if !bytes.Equal(content, data) {
			continue
		}
		matches = append(matches, Match{
			Filename: name,
			Path:     path,
			Exact:    true,
			Hash:     hash,
		})
	}
	return matches, nil
}

// Save stores data under the sanitized name and returns the file path.
// Content already stored under any name is rejected.
func (s *Store) Save(data []byte, name string, opts SaveOptions) (string, error) {
	if opts.Strict {
		if err := edid.Validate(data); err != nil {
			return "", fmt.Errorf("EDID failed strict validation: %w", err)
		}
	} else {
		if len(data) < edid.BlockSize {
			return "", fmt.Errorf("%w: %d bytes", edid.ErrTooShort, len(data))
		}
		if !edid.ValidateBlockChecksum(data[:edid.BlockSize]) {
			return "", &edid.ChecksumError{Block: 0}
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := os.MkdirAll(s.dir, 0770); err != nil {
		return "", fmt.Errorf("unable to create %s: %w", s.dir, err)
	}

	matches, err := s.findMatches(data)
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		return "", &DuplicateError{Filename: matches[0].Filename}
	}

	filename := ensureExtension(SanitizeFilename(name))
	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err == nil && !opts.Overwrite {
		return "", fmt.Errorf("%w: %s", ErrFilenameExists, filename)
	}

	if err := writeAtomic(s.dir, path, data); err != nil {
		return "", fmt.Errorf("failed to write EDID: %w", err)
	}
	logrus.Infof("EDID saved: %s", path)
	return path, nil
}

// writeAtomic publishes data at path through a temporary file and a rename,
// so a failed write never leaves a partial .bin file.
func writeAtomic(dir string, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".edid-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0660); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) List() ([]Entry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	names, err := s.binFiles()
	if err != nil {
		return nil, err
	}
	entries := []Entry{}
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			logrus.Warnf("Skip unreadable EDID file %s: %v", name, err)
			continue
		}
		entries = append(entries, Entry{Filename: name, Size: int64(len(content)), Hash: Hash(content)})
	}
	return entries, nil
}

// Load reads a stored file. name may omit the .bin extension but may not
// leave the store directory.
func (s *Store) Load(name string) ([]byte, error) {
	filename := ensureExtension(name)
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return nil, fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, err
	}
	return data, nil
}
