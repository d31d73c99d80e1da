package repository

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/breakroom-labs/sentinel/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&domain.SessionRecord{},
		&domain.MFAEnrollment{},
		&domain.BackupCode{},
		&domain.AuditEvent{},
		&domain.Challenge{},
		&domain.ChallengeAttempt{},
		&domain.ChallengeSolve{},
		&domain.SandboxEnvironment{},
		&domain.SandboxSession{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func uintPtr(v uint) *uint { return &v }
func intPtr(v int) *int    { return &v }
