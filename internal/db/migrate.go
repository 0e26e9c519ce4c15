/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/crazyarms/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(models.CoreTables()...); err != nil {
		return err
	}

	if err := normalizeHarborAuth(database); err != nil {
		return err
	}
	return nil
}

// normalizeHarborAuth rewrites legacy lowercase/trimmed harbor auth values
// imported from older installs.
func normalizeHarborAuth(database *gorm.DB) error {
	valid := []models.HarborAuth{
		models.HarborAuthAlways,
		models.HarborAuthNever,
		models.HarborAuthCalendar,
	}
	for _, v := range valid {
		err := database.Exec(
			"UPDATE users SET harbor_auth = ? WHERE LOWER(TRIM(harbor_auth)) = ? AND harbor_auth <> ?",
			v, string(v), v,
		).Error
		if err != nil {
			return fmt.Errorf("normalize harbor_auth %s: %w", v, err)
		}
	}
	return database.Exec(
		"UPDATE users SET harbor_auth = ? WHERE harbor_auth NOT IN ?",
		models.HarborAuthNever, valid,
	).Error
}
