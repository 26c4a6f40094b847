package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/calendarhub/intake/internal/domain"
)

func models() []any {
	return []any{&domain.Submission{}}
}

// Migrate creates or updates the submissions table. Confirmed rows are never
// removed here; retention belongs to an external purge job.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models()...)
}

// Pending lists the tables and columns Migrate would add. An empty result
// means the schema is current.
func Pending(db *gorm.DB) ([]string, error) {
	var changes []string
	m := db.Migrator()
	for _, model := range models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		table := stmt.Schema.Table
		if !m.HasTable(model) {
			changes = append(changes, "create table "+table)
			continue
		}
		for _, column := range stmt.Schema.DBNames {
			if !m.HasColumn(model, column) {
				changes = append(changes, fmt.Sprintf("add column %s.%s", table, column))
			}
		}
	}
	return changes, nil
}

// Status reports one line per managed table.
func Status(db *gorm.DB) ([]string, error) {
	pending, err := Pending(db)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, model := range models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		state := "up to date"
		if !db.Migrator().HasTable(model) {
			state = "missing"
		} else if len(pending) > 0 {
			state = fmt.Sprintf("%d pending change(s)", len(pending))
		}
		lines = append(lines, stmt.Schema.Table+": "+state)
	}
	return lines, nil
}
