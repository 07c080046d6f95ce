package ingestor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/fsnotify/fsnotify"
)

// FileIngestor tails NDJSON event files matching configured globs. Existing
// content is skipped; only lines appended after Start are ingested.
type FileIngestor struct {
	cfg    config.FileIngestorConfig
	name   string
	logger logger.ILogger

	// ready is closed once the watches are in place.
	ready chan struct{}
}

// NewFileIngestor creates a new file tailing ingestor.
func NewFileIngestor(cfg config.FileIngestorConfig, log logger.ILogger) *FileIngestor {
	return &FileIngestor{
		cfg:    cfg,
		name:   "file",
		logger: log.SubLogger("FileIngestor"),
		ready:  make(chan struct{}),
	}
}

// Name returns the ingestor identifier.
func (f *FileIngestor) Name() string {
	return f.name
}

// Ready is closed when the ingestor has started watching.
func (f *FileIngestor) Ready() <-chan struct{} {
	return f.ready
}

// Start watches the matched files and their directories until ctx is cancelled.
func (f *FileIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)

	var files []string
	for _, pattern := range f.cfg.Paths {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	files = f.filterExcluded(files)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	positions := make(map[string]int64)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		positions[file] = info.Size()
	}

	// Watch directories so that new and rotated files are seen too.
	dirs := make(map[string]struct{})
	for _, pattern := range f.cfg.Paths {
		dirs[filepath.Dir(pattern)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %q: %w", dir, err)
		}
	}

	f.logger.Infof("tailing event files: files=%d, dirs=%d", len(positions), len(dirs))
	close(f.ready)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !f.matchesPatterns(event.Name) || f.isExcluded(event.Name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				// New or rotated file: read it from the start.
				positions[event.Name] = 0
				fallthrough
			case event.Op&fsnotify.Write == fsnotify.Write:
				newPos, err := f.readNewLines(ctx, event.Name, positions[event.Name], out)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					f.logger.Warningf("reading file failed: path=%s, error=%v", event.Name, err)
					continue
				}
				positions[event.Name] = newPos
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(positions, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warningf("fsnotify error: %v", err)
		}
	}
}

// readNewLines reads complete lines from pos and returns the offset after the
// last complete line. A trailing partial line is left for the next write.
func (f *FileIngestor) readNewLines(ctx context.Context, path string, pos int64, out chan<- *model.Envelope) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return pos, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return pos, err
	}
	if info.Size() < pos {
		pos = 0 // truncated
	}

	if _, err := file.Seek(pos, io.SeekStart); err != nil {
		return pos, err
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return pos, nil
		}
		if err != nil {
			return pos, err
		}
		pos += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		env := model.NewEnvelope(f.name, line)
		env.Metadata["file"] = path
		if err := send(ctx, out, env); err != nil {
			return pos, err
		}
	}
}

func (f *FileIngestor) filterExcluded(files []string) []string {
	if len(f.cfg.Exclude) == 0 {
		return files
	}

	var result []string
	for _, file := range files {
		if !f.isExcluded(file) {
			result = append(result, file)
		}
	}
	return result
}

func (f *FileIngestor) isExcluded(file string) bool {
	for _, pattern := range f.cfg.Exclude {
		if matched, _ := filepath.Match(pattern, filepath.Base(file)); matched {
			return true
		}
	}
	return false
}

func (f *FileIngestor) matchesPatterns(file string) bool {
	for _, pattern := range f.cfg.Paths {
		if matched, _ := filepath.Match(pattern, file); matched {
			return true
		}
	}
	return false
}
