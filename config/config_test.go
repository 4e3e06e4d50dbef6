package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/infernode/tools/ilower/lower"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ilower.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.Equal(t, lower.HalfConvert, Default().LowerOptions().Half)
}

func TestLoadOverridesDefaults(t *testing.T) {
	c, err := Load(write(t, "format: il\nhalf: native\nassembly: demo\n"))
	require.NoError(t, err)
	assert.Equal(t, FormatIL, c.Format)
	assert.Equal(t, "demo", c.Assembly)
	assert.Equal(t, "main.main", c.Entry)
	assert.Equal(t, lower.HalfNative, c.LowerOptions().Half)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(write(t, "format: wasm\nhalf: sometimes\nentry: \"\"\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown format "wasm"`)
	assert.ErrorContains(t, err, `unknown half mode "sometimes"`)
	assert.ErrorContains(t, err, "entry symbol")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")

	_, err = Load(write(t, "format: [c\n"))
	assert.ErrorContains(t, err, "parsing")
}
