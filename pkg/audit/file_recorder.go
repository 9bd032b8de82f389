package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"context"
)

// FileRecorder appends audit entries as JSON lines to a local file. It is a
// secondary sink: queries always go to the database, the file exists for
// off-box shipping and forensics.
type FileRecorder struct {
	basePath string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	nextID  int64
}

// FileRecorderConfig configures the file recorder.
type FileRecorderConfig struct {
	BasePath string // directory for audit log files
	MaxSize  int64  // max file size in bytes before rotation (default 100MB)
	MaxFiles int    // rotated files to keep (default 10)
}

// DefaultFileRecorderConfig returns sensible defaults.
func DefaultFileRecorderConfig() FileRecorderConfig {
	return FileRecorderConfig{
		BasePath: "/var/log/warden/audit",
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileRecorder creates a file-based audit recorder.
func NewFileRecorder(config FileRecorderConfig) (*FileRecorder, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	r := &FileRecorder{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if r.maxSize == 0 {
		r.maxSize = 100 * 1024 * 1024
	}
	if r.maxFiles == 0 {
		r.maxFiles = 10
	}
	if err := r.openLogFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record appends the entry to the current log file.
func (r *FileRecorder) Record(_ context.Context, in Input) (*Entry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Severity == "" {
		in.Severity = SeverityInfo
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	entry := &Entry{
		ID:          r.nextID,
		Event:       in.Event,
		SubjectType: in.SubjectType,
		SubjectID:   in.SubjectID,
		ActorID:     in.ActorID,
		Description: in.Description,
		OldValues:   in.OldValues,
		NewValues:   in.NewValues,
		Severity:    in.Severity,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	if err := r.encoder.Encode(entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	return entry, nil
}

// Close closes the underlying file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *FileRecorder) currentPath() string {
	return filepath.Join(r.basePath, "audit.log")
}

func (r *FileRecorder) openLogFile() error {
	file, err := os.OpenFile(r.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	r.file = file
	r.encoder = json.NewEncoder(file)
	return nil
}

func (r *FileRecorder) rotateIfNeeded() error {
	info, err := r.file.Stat()
	if err != nil || info.Size() < r.maxSize {
		return err
	}
	if err := r.file.Close(); err != nil {
		return err
	}

	// Shift audit.log.N up, dropping the oldest.
	oldest := filepath.Join(r.basePath, fmt.Sprintf("audit.log.%d", r.maxFiles))
	_ = os.Remove(oldest)
	for i := r.maxFiles - 1; i >= 1; i-- {
		from := filepath.Join(r.basePath, fmt.Sprintf("audit.log.%d", i))
		to := filepath.Join(r.basePath, fmt.Sprintf("audit.log.%d", i+1))
		_ = os.Rename(from, to)
	}
	if err := os.Rename(r.currentPath(), filepath.Join(r.basePath, "audit.log.1")); err != nil {
		return err
	}
	return r.openLogFile()
}
