package classifier

import (
	"fmt"
	"strings"
)

// Loaded is the immutable inference context built once at startup.
type Loaded struct {
	Bundle     *Bundle
	Classifier *Classifier
	model      *ONNXModel
}

// Load resolves the active bundle under root, verifies it and binds its
// ONNX graph. Any failure here is a startup failure.
func Load(root string, opts Options) (*Loaded, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("models dir is empty")
	}

	dir, stateVersion, err := ResolveBundleDir(root)
	if err != nil {
		return nil, err
	}

	bundle, err := OpenBundle(dir, opts.ModelFile)
	if err != nil {
		return nil, err
	}
	if stateVersion != "" {
		if bundle.Version != "" && bundle.Version != stateVersion {
			return nil, fmt.Errorf("bundle manifest version %q does not match active version %q", bundle.Version, stateVersion)
		}
		bundle.Version = stateVersion
	}

	model, err := NewONNXModel(bundle.ModelPath, bundle.Schema.Len(), bundle.Decoder.Classes(), opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", bundle.ModelPath, err)
	}
	if bundle.Decoder.Kind() == DecoderWithLabels && model.Classes() != bundle.Decoder.Classes() {
		_ = model.Close()
		return nil, fmt.Errorf("model emits %d classes but label map has %d", model.Classes(), bundle.Decoder.Classes())
	}

	return &Loaded{
		Bundle:     bundle,
		Classifier: New(model, bundle.Decoder),
		model:      model,
	}, nil
}

// Close releases the ONNX sessions.
func (l *Loaded) Close() error {
	if l == nil || l.model == nil {
		return nil
	}
	return l.model.Close()
}
