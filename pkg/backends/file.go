package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// FileBackend manages plain files on the local filesystem. The resource
// identifier is the absolute file path.
type FileBackend struct{}

// NewFileBackend creates the file backend.
func NewFileBackend() *FileBackend {
	return &FileBackend{}
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Kinds() []engine.Kind {
	return []engine.Kind{engine.KindFile}
}

// ReadOnlyInspection reports that queries only stat and read.
func (b *FileBackend) ReadOnlyInspection() bool { return true }

// Query reports existence, content digest, and mode of the file.
func (b *FileBackend) Query(ctx context.Context, kind engine.Kind, id string) (*engine.Observation, error) {
	state := engine.FileState{}

	info, err := os.Stat(id)
	switch {
	case err == nil:
		state.Present = true
		state.Mode = fmt.Sprintf("%04o", info.Mode().Perm())
		digest, err := hashFile(id)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", id, err)
		}
		state.SHA256 = digest
	case os.IsNotExist(err):
		state.Present = false
	default:
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}

	current, err := engine.EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
}

// Apply writes or removes the file.
func (b *FileBackend) Apply(ctx context.Context, action *engine.Action) error {
	var desired engine.FileState
	if err := json.Unmarshal(action.Desired, &desired); err != nil {
		return fmt.Errorf("decoding desired state: %w", err)
	}

	switch action.Type {
	case engine.ActionWrite:
		mode := os.FileMode(0644)
		if desired.Mode != "" {
			parsed, err := strconv.ParseUint(desired.Mode, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid mode %q: %w", desired.Mode, err)
			}
			mode = os.FileMode(parsed)
		}
		if dir := filepath.Dir(action.ID); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
		}
		if err := writeFileAtomic(action.ID, desired.Content, mode); err != nil {
			return fmt.Errorf("writing %s: %w", action.ID, err)
		}
		return nil
	case engine.ActionRemove:
		if err := os.Remove(action.ID); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", action.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("file backend cannot apply action %q", action.Type)
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileAtomic writes through a temp file and rename so a crash never
// leaves a half-written target.
func writeFileAtomic(path, content string, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
