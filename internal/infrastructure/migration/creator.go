package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/storefront/backend/internal/infrastructure/config"
)

const pairTemplate = `-- Migration: {{.Name}}{{if .Down}} (Rollback){{end}}
-- Dialect: {{.Dialect}}
-- Created: {{.Timestamp}}
{{- if .Description}}
-- Description: {{.Description}}
{{- end}}

`

// Dialects lists the drivers that get a SQL file for every migration
var Dialects = []string{config.DriverPostgres, config.DriverMySQL}

// MigrationFile is one scaffolded up/down pair
type MigrationFile struct {
	Version  string
	Dialect  string
	UpPath   string
	DownPath string
}

type templateData struct {
	Name        string
	Description string
	Dialect     string
	Timestamp   string
	Down        bool
}

// CreateMigration scaffolds an empty up/down pair in every dialect directory
// below root. All pairs share one timestamp version.
func CreateMigration(root, name, description string) ([]MigrationFile, error) {
	base := sanitizeName(name)
	if base == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}

	now := time.Now().UTC()
	version := now.Format("20060102150405")
	tmpl := template.Must(template.New("migration").Parse(pairTemplate))

	files := make([]MigrationFile, 0, len(Dialects))
	for _, dialect := range Dialects {
		dir := Dir(root, dialect)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create migrations directory: %w", err)
		}

		mf := MigrationFile{
			Version:  version,
			Dialect:  dialect,
			UpPath:   filepath.Join(dir, version+"_"+base+".up.sql"),
			DownPath: filepath.Join(dir, version+"_"+base+".down.sql"),
		}
		data := templateData{Name: name, Description: description, Dialect: dialect, Timestamp: now.Format(time.RFC3339)}
		if err := writeTemplate(tmpl, mf.UpPath, data); err != nil {
			return nil, err
		}
		data.Down = true
		if err := writeTemplate(tmpl, mf.DownPath, data); err != nil {
			_ = os.Remove(mf.UpPath)
			return nil, err
		}
		files = append(files, mf)
	}
	return files, nil
}

func writeTemplate(tmpl *template.Template, path string, data templateData) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// sanitizeName lowercases a name and folds separators into single underscores
func sanitizeName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			pendingSep = true
		}
	}
	return b.String()
}

// ListMigrations returns the sorted migration base names of one dialect directory
func ListMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok && !entry.IsDir() {
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}
