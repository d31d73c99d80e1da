package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
)

var ErrEnrollmentNotFound = errors.New("mfa enrollment not found")

type MFARepository interface {
	// ReplacePending installs a fresh pending enrollment plus its backup
	// codes, overwriting any previous not-yet-enabled state for the user.
	ReplacePending(ctx context.Context, enrollment *domain.MFAEnrollment, codeHashes []string) error
	FindByUserID(ctx context.Context, userID uint) (*domain.MFAEnrollment, error)
	Enable(ctx context.Context, userID uint, at time.Time) error
	TouchVerified(ctx context.Context, userID uint, at time.Time) error
	Delete(ctx context.Context, userID uint) error
	ReplaceBackupCodes(ctx context.Context, userID uint, codeHashes []string) error
	ListUnusedBackupCodes(ctx context.Context, userID uint) ([]domain.BackupCode, error)
	CountUnusedBackupCodes(ctx context.Context, userID uint) (int64, error)
	// ConsumeBackupCode flips a code used=false -> true with a guarded update
	// so each code is spendable at most once even under concurrent calls.
	ConsumeBackupCode(ctx context.Context, codeID uint, at time.Time) (bool, error)
}

type GormMFARepository struct{ db *gorm.DB }

func NewMFARepository(db *gorm.DB) MFARepository { return &GormMFARepository{db: db} }

func (r *GormMFARepository) ReplacePending(ctx context.Context, enrollment *domain.MFAEnrollment, codeHashes []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", enrollment.UserID).Delete(&domain.MFAEnrollment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", enrollment.UserID).Delete(&domain.BackupCode{}).Error; err != nil {
			return err
		}
		if err := tx.Create(enrollment).Error; err != nil {
			return err
		}
		return createBackupCodes(tx, enrollment.UserID, codeHashes)
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "replace_pending", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "replace_pending", "success")
	return nil
}

func (r *GormMFARepository) FindByUserID(ctx context.Context, userID uint) (*domain.MFAEnrollment, error) {
	var e domain.MFAEnrollment
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "find_by_user_id", "not_found")
			return nil, ErrEnrollmentNotFound
		}
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "find_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "find_by_user_id", "success")
	return &e, nil
}

func (r *GormMFARepository) Enable(ctx context.Context, userID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.MFAEnrollment{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"enabled": true, "last_verified_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "enable", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "enable", "not_found")
		return ErrEnrollmentNotFound
	}
	observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "enable", "success")
	return nil
}

func (r *GormMFARepository) TouchVerified(ctx context.Context, userID uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.MFAEnrollment{}).
		Where("user_id = ?", userID).
		Update("last_verified_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "touch_verified", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "touch_verified", "success")
	return nil
}

func (r *GormMFARepository) Delete(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&domain.MFAEnrollment{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&domain.BackupCode{}).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "mfa_enrollment", "delete", "success")
	return nil
}

func (r *GormMFARepository) ReplaceBackupCodes(ctx context.Context, userID uint, codeHashes []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&domain.BackupCode{}).Error; err != nil {
			return err
		}
		return createBackupCodes(tx, userID, codeHashes)
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "replace", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "replace", "success")
	return nil
}

func (r *GormMFARepository) ListUnusedBackupCodes(ctx context.Context, userID uint) ([]domain.BackupCode, error) {
	var codes []domain.BackupCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND used = ?", userID, false).
		Order("id ASC").
		Find(&codes).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "list_unused", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "list_unused", "success")
	return codes, nil
}

func (r *GormMFARepository) CountUnusedBackupCodes(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "count_unused", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "count_unused", "success")
	return n, nil
}

func (r *GormMFARepository) ConsumeBackupCode(ctx context.Context, codeID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("id = ? AND used = ?", codeID, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "backup_code", "consume", "success")
	return res.RowsAffected > 0, nil
}

func createBackupCodes(tx *gorm.DB, userID uint, codeHashes []string) error {
	for _, h := range codeHashes {
		if err := tx.Create(&domain.BackupCode{UserID: userID, CodeHash: h}).Error; err != nil {
			return err
		}
	}
	return nil
}
