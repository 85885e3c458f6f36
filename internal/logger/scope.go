package logger

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Scope attributes everything logged on behalf of one cluster: a logger
// carrying the cluster attribute and the rotated files that receive the output
// of the cluster's child processes. Close releases the files; the scope stays
// usable afterwards and reopens files on demand.
type Scope struct {
	logger *slog.Logger
	files  FileConfig
	name   string

	mu      sync.Mutex
	streams map[string][2]io.WriteCloser
}

// NewScope derives a scope from base. name selects the file prefix below
// files.Dir and may contain a slash to group files per namespace.
func NewScope(base *slog.Logger, files FileConfig, name string, attrs ...any) *Scope {
	if base == nil {
		base = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scope{logger: base.With(attrs...), files: files, name: name}
}

func (s *Scope) Logger() *slog.Logger { return s.logger }

// ProcessWriters returns writers for the stdout and stderr of the child
// process proc. Repeated calls for the same proc share the files. Streams
// without a destination are discarded.
func (s *Scope) ProcessWriters(proc string) (io.Writer, io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.streams[proc]
	if !ok {
		outW, errW, err := s.files.Writers(s.name + "." + proc)
		if err != nil {
			s.logger.Warn("child process output discarded", "process", proc, "error", err)
		}
		pair = [2]io.WriteCloser{outW, errW}
		if s.streams == nil {
			s.streams = make(map[string][2]io.WriteCloser)
		}
		s.streams[proc] = pair
	}
	var stdout, stderr io.Writer = io.Discard, io.Discard
	if pair[0] != nil {
		stdout = pair[0]
	}
	if pair[1] != nil {
		stderr = pair[1]
	}
	return stdout, stderr
}

// Close releases every file opened through the scope.
func (s *Scope) Close() error {
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()
	var errs []error
	for _, pair := range streams {
		for _, c := range pair {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
