package database

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/classpoll/backend/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate synchronizes the tables from the models, then runs the embedded SQL
// migrations in order (001_indexes.sql, 002_..., etc.). Every statement must be
// idempotent because this runs on each start.
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&models.Teacher{}, &models.Poll{}, &models.Option{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(sql), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("execute migration %s: %w", name, err)
			}
		}
	}
	return nil
}
