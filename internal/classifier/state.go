package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stateFileName lives in the models root, next to the version directories
// it points at.
const stateFileName = "state.json"

// ErrBundleStateNotFound means the models root has no state.json, so the root
// is treated as a single unversioned bundle.
var ErrBundleStateNotFound = errors.New("model bundle state not found")

// BundleState names the version directory serving predictions and the one
// a rollback returns to.
type BundleState struct {
	CurrentVersion  string `json:"current_version"`
	PreviousVersion string `json:"previous_version,omitempty"`
}

func modelsRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.New("models root is empty")
	}
	return root, nil
}

// LoadBundleState reads the version pointer from the models root.
func LoadBundleState(root string) (BundleState, error) {
	root, err := modelsRoot(root)
	if err != nil {
		return BundleState{}, err
	}
	data, err := os.ReadFile(filepath.Join(root, stateFileName))
	switch {
	case os.IsNotExist(err):
		return BundleState{}, ErrBundleStateNotFound
	case err != nil:
		return BundleState{}, fmt.Errorf("read bundle state: %w", err)
	}

	var state BundleState
	if err := json.Unmarshal(data, &state); err != nil {
		return BundleState{}, fmt.Errorf("decode bundle state: %w", err)
	}
	return state, nil
}

// SaveBundleState replaces the version pointer. A running server keeps the
// bundle it loaded; the new pointer applies on the next start.
func SaveBundleState(root string, state BundleState) error {
	root, err := modelsRoot(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create models root: %w", err)
	}
	state = BundleState{
		CurrentVersion:  strings.TrimSpace(state.CurrentVersion),
		PreviousVersion: strings.TrimSpace(state.PreviousVersion),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle state: %w", err)
	}
	return replaceFile(root, stateFileName, append(data, '\n'))
}

// replaceFile writes name under dir through a synced temp file and a rename,
// so readers see either the old or the new content.
func replaceFile(dir, name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp %s: %w", name, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod temp %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ResolveBundleDir returns the active bundle directory under root. Without a
// state.json the root itself is the bundle and the version is empty.
func ResolveBundleDir(root string) (dir string, version string, err error) {
	state, err := LoadBundleState(root)
	if err != nil {
		if errors.Is(err, ErrBundleStateNotFound) {
			return strings.TrimSpace(root), "", nil
		}
		return "", "", err
	}
	version = strings.TrimSpace(state.CurrentVersion)
	if version == "" {
		return "", "", errors.New("bundle state has no current_version")
	}
	dir, err = resolveBundlePath(root, version)
	if err != nil {
		return "", "", fmt.Errorf("resolve version dir: %w", err)
	}
	return dir, version, nil
}

// ActivateVersion makes version current and remembers the old current version
// for rollback. The version directory must hold a model file.
func ActivateVersion(root, version, modelFile string) (BundleState, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return BundleState{}, errors.New("version is empty")
	}
	if strings.TrimSpace(modelFile) == "" {
		modelFile = ModelFile
	}
	dir, err := resolveBundlePath(root, version)
	if err != nil {
		return BundleState{}, fmt.Errorf("resolve version dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, modelFile)); err != nil {
		return BundleState{}, fmt.Errorf("version %s has no %s: %w", version, modelFile, err)
	}

	state, err := LoadBundleState(root)
	if err != nil && !errors.Is(err, ErrBundleStateNotFound) {
		return BundleState{}, err
	}
	if state.CurrentVersion == version {
		return state, nil
	}
	next := BundleState{CurrentVersion: version, PreviousVersion: state.CurrentVersion}
	if err := SaveBundleState(root, next); err != nil {
		return BundleState{}, err
	}
	return next, nil
}

// RollbackVersion swaps current and previous versions.
func RollbackVersion(root string) (BundleState, error) {
	state, err := LoadBundleState(root)
	if err != nil {
		return BundleState{}, err
	}
	if strings.TrimSpace(state.PreviousVersion) == "" {
		return BundleState{}, errors.New("no previous version to roll back to")
	}
	next := BundleState{CurrentVersion: state.PreviousVersion, PreviousVersion: state.CurrentVersion}
	if err := SaveBundleState(root, next); err != nil {
		return BundleState{}, err
	}
	return next, nil
}
