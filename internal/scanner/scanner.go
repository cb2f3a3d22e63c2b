// Package scanner enumerates monitored folders for media files that have not
// been uploaded yet.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"vidrelay/internal/config"
	"vidrelay/internal/history"
	"vidrelay/internal/logging"
)

var mediaExtensions = map[string]struct{}{
	".mp4":  {},
	".avi":  {},
	".mkv":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
}

// IsMediaFile reports whether name carries a supported media extension.
func IsMediaFile(name string) bool {
	_, ok := mediaExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Processed answers whether a fingerprint is already recorded.
type Processed interface {
	IsProcessed(fingerprint string) bool
}

// Candidate is a file ready for upload.
type Candidate struct {
	Path         string
	Folder       config.Folder
	TargetFolder string
	Fingerprint  string
	Size         int64
}

// Scanner walks the configured folders.
type Scanner struct {
	fs        afero.Fs
	folders   []config.Folder
	recursive bool
	skipDir   string
	logger    *slog.Logger
}

// New builds a scanner over fsys for the folders in cfg.
func New(fsys afero.Fs, cfg *config.Config, logger *slog.Logger) *Scanner {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Scanner{
		fs:        fsys,
		folders:   append([]config.Folder(nil), cfg.Folders...),
		recursive: cfg.Scan.Recursive,
		skipDir:   cfg.Download.OutputSubdir,
		logger:    logging.NewComponentLogger(logger, "scanner"),
	}
}

// Scan returns unprocessed candidates, folders in configuration order and
// files sorted by path within each folder. Missing or unreadable folders are
// logged and skipped.
func (s *Scanner) Scan(ctx context.Context, processed Processed) []Candidate {
	var out []Candidate
	for _, folder := range s.folders {
		if ctx.Err() != nil {
			return out
		}
		found, err := s.scanFolder(folder, processed)
		if err != nil {
			logging.WarnWithContext(s.logger, "monitored folder skipped", "scan_folder_skipped",
				logging.String("folder", folder.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the folder exists and is readable"),
				logging.String(logging.FieldImpact, "files in this folder are not uploaded this cycle"),
			)
			continue
		}
		s.logger.Debug("folder scanned",
			logging.String(logging.FieldEventType, "scan_folder_complete"),
			logging.String("folder", folder.Path),
			logging.Int("candidates", len(found)),
		)
		out = append(out, found...)
	}
	return out
}

func (s *Scanner) scanFolder(folder config.Folder, processed Processed) ([]Candidate, error) {
	info, err := s.fs.Stat(folder.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: folder.Path, Err: errors.New("not a directory")}
	}

	var paths []string
	if s.recursive {
		paths, err = s.walk(folder.Path)
	} else {
		paths, err = s.list(folder.Path)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	candidates := make([]Candidate, 0, len(paths))
	for _, path := range paths {
		fileInfo, err := s.fs.Stat(path)
		if err != nil || !fileInfo.Mode().IsRegular() {
			continue
		}
		fingerprint := history.FingerprintInfo(path, fileInfo)
		if processed != nil && processed.IsProcessed(fingerprint) {
			continue
		}
		candidates = append(candidates, Candidate{
			Path:         path,
			Folder:       folder,
			TargetFolder: filepath.Dir(path),
			Fingerprint:  fingerprint,
			Size:         fileInfo.Size(),
		})
	}
	return candidates, nil
}

func (s *Scanner) list(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsMediaFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

func (s *Scanner) walk(root string) ([]string, error) {
	var paths []string
	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Debug("walk entry skipped", logging.String("path", path), logging.Error(err))
			return nil
		}
		if info.IsDir() {
			if path != root && s.skipDirectory(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMediaFile(info.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func (s *Scanner) skipDirectory(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return s.skipDir != "" && name == s.skipDir
}
