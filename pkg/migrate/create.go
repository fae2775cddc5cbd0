package migrate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"
)

const versionLayout = "20060102150405"

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

	sqlMigrationTemplate = template.Must(template.New("migration").Parse(`-- {{.Slug}}
-- +goose Up
-- +goose StatementBegin
SELECT 'up: {{.Slug}}';
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SELECT 'down: {{.Slug}}';
-- +goose StatementEnd
`))
)

// CreateSQLMigration writes <dir>/<UTC timestamp>_<slug>.sql with empty Up and
// Down sections and returns its path. A slug already used by another migration
// in dir is refused.
func CreateSQLMigration(dir, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("migration dir is required")
	}
	slug := migrationSlug(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	if taken, err := slugTaken(dir, slug); err != nil {
		return "", err
	} else if taken != "" {
		return "", fmt.Errorf("migration %q already exists: %s", slug, taken)
	}

	var buf bytes.Buffer
	if err := sqlMigrationTemplate.Execute(&buf, struct{ Slug string }{slug}); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.Format(versionLayout), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, f.Close()
}

func slugTaken(dir, slug string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m != nil && strings.TrimSuffix(e.Name()[len(m[1])+1:], ".sql") == slug {
			return e.Name(), nil
		}
	}
	return "", nil
}

// migrationSlug lowercases name and collapses every run of other characters
// into one underscore.
func migrationSlug(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(slug, "_")
}
