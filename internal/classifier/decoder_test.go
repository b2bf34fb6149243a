package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackDecoderMapsReferenceClasses(t *testing.T) {
	d := FallbackDecoder()
	assert.Equal(t, DecoderFallback, d.Kind())
	assert.Equal(t, 3, d.Classes())

	for raw, want := range map[int64]string{0: "safe", 1: "suspicious", 2: "malicious"} {
		got, err := d.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFallbackDecoderUnmappedIsUnknown(t *testing.T) {
	d := FallbackDecoder()
	for _, raw := range []int64{-1, 3, 42} {
		got, err := d.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, "unknown", got)
	}
}

func TestZeroDecoderBehavesAsFallback(t *testing.T) {
	var d Decoder
	assert.Equal(t, DecoderFallback, d.Kind())
	got, err := d.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "suspicious", got)
}

func TestLabelDecoderOutOfRange(t *testing.T) {
	d := NewLabelDecoder([]string{"malicious", "safe"})
	assert.Equal(t, DecoderWithLabels, d.Kind())

	got, err := d.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "safe", got)

	_, err = d.Decode(2)
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = d.Decode(-1)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestNewLabelDecoderCopiesInput(t *testing.T) {
	labels := []string{"safe", "malicious"}
	d := NewLabelDecoder(labels)
	labels[0] = "tampered"

	got, err := d.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, "safe", got)
}

func TestLoadDecoder(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file selects fallback", func(t *testing.T) {
		d, err := LoadDecoder(filepath.Join(dir, "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, DecoderFallback, d.Kind())
	})

	t.Run("array form", func(t *testing.T) {
		path := filepath.Join(dir, "array.json")
		require.NoError(t, os.WriteFile(path, []byte(`["safe","suspicious","malicious"]`), 0o644))
		d, err := LoadDecoder(path)
		require.NoError(t, err)
		assert.Equal(t, DecoderWithLabels, d.Kind())
		got, err := d.Decode(2)
		require.NoError(t, err)
		assert.Equal(t, "malicious", got)
	})

	t.Run("index map form", func(t *testing.T) {
		path := filepath.Join(dir, "map.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"1":"phishing","0":"benign"}`), 0o644))
		d, err := LoadDecoder(path)
		require.NoError(t, err)
		assert.Equal(t, 2, d.Classes())
		got, err := d.Decode(1)
		require.NoError(t, err)
		assert.Equal(t, "phishing", got)
	})

	t.Run("gap in index map", func(t *testing.T) {
		path := filepath.Join(dir, "gap.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"0":"safe","2":"malicious"}`), 0o644))
		_, err := LoadDecoder(path)
		assert.Error(t, err)
	})

	t.Run("blank label", func(t *testing.T) {
		path := filepath.Join(dir, "blank.json")
		require.NoError(t, os.WriteFile(path, []byte(`["safe"," "]`), 0o644))
		_, err := LoadDecoder(path)
		assert.ErrorContains(t, err, "no label for class 1")
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.json")
		require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
		_, err := LoadDecoder(path)
		assert.ErrorContains(t, err, "decode label map")
	})
}
