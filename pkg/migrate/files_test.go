package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsValidate(t *testing.T) {
	require.NoError(t, Validate(Embedded()))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"20260301090000_ok.sql":        {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260301090000_duplicate.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260301090500_no_down.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"add payments.sql":             {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"README.md":                    {Data: []byte("ignored")},
	}
	err := Validate(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
	assert.Contains(t, err.Error(), `missing "-- +goose Down"`)
	assert.Contains(t, err.Error(), "add payments.sql")
}

func TestValidateRejectsEmptySource(t *testing.T) {
	assert.Error(t, Validate(fstest.MapFS{}))
}

func TestCreateWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	path, err := Create(dir, "Add Refund Reason!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260402083000_add_refund_reason.sql"), path)

	require.NoError(t, Validate(os.DirFS(dir)))

	_, err = Create(dir, "add refund reason", now)
	assert.Error(t, err, "same version and name must not overwrite")

	_, err = Create(dir, "!!!", now)
	assert.Error(t, err)
}
