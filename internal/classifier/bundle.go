package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/phishcheck/phishcheck/internal/features"
)

// Bundle file names.
const (
	ModelFile    = "model.onnx"
	LabelMapFile = "label_map.json"
	SchemaFile   = "feature_schema.json"
	ManifestFile = "manifest.json"
)

// ManifestEntry describes one file entry in manifest.json.
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors manifest.json.
type Manifest struct {
	Model     string          `json:"model"`
	Version   string          `json:"version"`
	CreatedAt string          `json:"created_at"`
	Files     []ManifestEntry `json:"files"`
}

// Bundle is the on-disk artifact set for one model version.
type Bundle struct {
	Dir       string
	Version   string
	ModelPath string
	Manifest  *Manifest
	Schema    *features.Schema
	Decoder   Decoder
}

// OpenBundle checks the bundle layout and integrity and loads the schema and
// label decoder. It does not touch the ONNX runtime.
func OpenBundle(dir, modelFile string) (*Bundle, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("bundle dir is empty")
	}
	if strings.TrimSpace(modelFile) == "" {
		modelFile = ModelFile
	}

	modelPath, err := resolveBundlePath(dir, modelFile)
	if err != nil {
		return nil, fmt.Errorf("resolve model path: %w", err)
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("model file at %s is empty or not a regular file", modelPath)
	}

	manifest, err := VerifyBundle(dir)
	if err != nil {
		return nil, err
	}

	schema := features.Default()
	schemaPath := filepath.Join(dir, SchemaFile)
	if _, err := os.Stat(schemaPath); err == nil {
		schema, err = features.LoadSchema(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("load feature schema: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat feature schema: %w", err)
	}

	decoder, err := LoadDecoder(filepath.Join(dir, LabelMapFile))
	if err != nil {
		return nil, fmt.Errorf("load label decoder: %w", err)
	}

	version := ""
	if manifest != nil {
		version = strings.TrimSpace(manifest.Version)
	}

	return &Bundle{
		Dir:       dir,
		Version:   version,
		ModelPath: modelPath,
		Manifest:  manifest,
		Schema:    schema,
		Decoder:   decoder,
	}, nil
}

// VerifyBundle checks manifest.json hashes and sizes when the bundle ships a
// manifest. It returns nil, nil for bundles without one.
func VerifyBundle(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	for _, f := range manifest.Files {
		local, err := resolveBundlePath(dir, filepath.FromSlash(f.Path))
		if err != nil {
			return nil, fmt.Errorf("resolve path %s: %w", f.Path, err)
		}
		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Path, err)
		}
		if f.Size > 0 && info.Size() != f.Size {
			return nil, fmt.Errorf("size mismatch for %s: expected %d got %d", f.Path, f.Size, info.Size())
		}
		if f.SHA256 == "" {
			continue
		}
		sum, err := fileSHA256(local)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		if !strings.EqualFold(sum, f.SHA256) {
			return nil, fmt.Errorf("sha256 mismatch for %s: expected %s got %s", f.Path, f.SHA256, sum)
		}
	}
	return &manifest, nil
}

func fileSHA256(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolveBundlePath joins rel onto dir, rejecting absolute paths and paths
// that escape dir.
func resolveBundlePath(dir, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("absolute path %q not allowed", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes bundle dir", rel)
	}
	return filepath.Join(dir, clean), nil
}

// resolveSharedLibraryPath attempts to locate a platform-specific onnxruntime shared library.
// An explicit path wins, then ONNXRUNTIME_SHARED_LIBRARY_PATH, then common names/locations.
func resolveSharedLibraryPath(explicit, bundleDir string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
