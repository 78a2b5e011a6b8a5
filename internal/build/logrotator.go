package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the number of rotated files kept on disk.
	DefaultMaxLogFiles = 5

	// DefaultMaxLogFileSize is the size in MB at which the log rotates.
	DefaultMaxLogFileSize = 10

	// DefaultLogFilename is the name of the daemon log file.
	DefaultLogFilename = "insightd.log"
)

// RotatorConfig configures the rotating log file.
type RotatorConfig struct {
	// Dir is the directory the log file lives in.
	Dir string

	// MaxFiles is the number of rotated files to keep. Zero keeps a
	// single file that is never rotated.
	MaxFiles int

	// MaxFileSize is the rotation threshold in MB.
	MaxFileSize int

	// Filename defaults to DefaultLogFilename.
	Filename string
}

// DefaultRotatorConfig returns the rotation defaults for dir.
func DefaultRotatorConfig(dir string) RotatorConfig {
	return RotatorConfig{
		Dir:         dir,
		MaxFiles:    DefaultMaxLogFiles,
		MaxFileSize: DefaultMaxLogFileSize,
		Filename:    DefaultLogFilename,
	}
}

// Path is the full path of the active log file.
func (c RotatorConfig) Path() string {
	name := c.Filename
	if name == "" {
		name = DefaultLogFilename
	}

	return filepath.Join(c.Dir, name)
}

// RotatingWriter feeds writes through a pipe into a gzip compressing file
// rotator.
type RotatingWriter struct {
	pipe *io.PipeWriter
	done chan struct{}
}

// NewRotatingWriter creates the log directory and starts the rotator.
func NewRotatingWriter(cfg RotatorConfig) (*RotatingWriter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("log directory not set")
	}

	logFile := cfg.Path()
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in KB.
	r, err := rotator.New(
		logFile, int64(cfg.MaxFileSize*1024), false, cfg.MaxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("create file rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingWriter{
		pipe: pw,
		done: make(chan struct{}),
	}

	go func() {
		defer close(w.done)

		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n",
				err)
		}
		_ = r.Close()
	}()

	return w, nil
}

// Write hands b to the rotator.
func (w *RotatingWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close flushes pending writes and waits for the rotator to exit.
func (w *RotatingWriter) Close() error {
	err := w.pipe.Close()
	<-w.done

	return err
}
