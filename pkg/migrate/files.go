package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	fileNamePattern = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	nameCleaner     = regexp.MustCompile(`[^a-z0-9]+`)
)

// Validate checks that every .sql file in fsys is named
// YYYYMMDDHHMMSS_name.sql, that versions are unique and that each file has
// both goose sections.
func Validate(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no migrations found")
	}
	versions := make(map[string]string, len(files))
	var problems []error
	for _, name := range files {
		match := fileNamePattern.FindStringSubmatch(name)
		if match == nil {
			problems = append(problems, fmt.Errorf("%s: name must be YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if other, dup := versions[match[1]]; dup {
			problems = append(problems, fmt.Errorf("%s: version %s already used by %s", name, match[1], other))
			continue
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				problems = append(problems, fmt.Errorf("%s: missing %q", name, marker))
			}
		}
	}
	return errors.Join(problems...)
}

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// Create writes an empty migration into dir and returns its path.
func Create(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(nameCleaner.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, now.UTC().Format("20060102150405")+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, slug); err != nil {
		return "", err
	}
	return path, nil
}
