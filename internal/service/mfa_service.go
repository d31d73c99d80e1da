package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
)

var (
	ErrMFANotEnrolled    = errors.New("mfa is not enrolled")
	ErrMFAAlreadyEnabled = errors.New("mfa is already enabled")
	ErrMFAInvalidCode    = errors.New("invalid mfa code")
)

// MFASetup carries the one-time view of a fresh enrollment. The secret and
// the plaintext backup codes are never retrievable again.
type MFASetup struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

type MFAService struct {
	repo            repository.MFARepository
	audit           AuditRecorder
	issuer          string
	backupCodeCount int
}

func NewMFAService(repo repository.MFARepository, audit AuditRecorder, issuer string, backupCodeCount int) *MFAService {
	if backupCodeCount <= 0 {
		backupCodeCount = 10
	}
	return &MFAService{repo: repo, audit: audit, issuer: issuer, backupCodeCount: backupCodeCount}
}

// SetupTOTP creates a pending enrollment. Calling it again before the first
// successful verification replaces the pending secret and codes, so a retry
// after a lost QR code is safe.
func (s *MFAService) SetupTOTP(ctx context.Context, userID uint, username, ip string) (*MFASetup, error) {
	existing, err := s.repo.FindByUserID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrEnrollmentNotFound) {
		return nil, err
	}
	if err == nil && existing.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: username})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	codes := make([]string, 0, s.backupCodeCount)
	hashes := make([]string, 0, s.backupCodeCount)
	for i := 0; i < s.backupCodeCount; i++ {
		code, err := security.NewBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		hash, err := security.HashBackupCode(code)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, hash)
	}

	enrollment := &domain.MFAEnrollment{UserID: userID, Secret: key.Secret()}
	if err := s.repo.ReplacePending(ctx, enrollment, hashes); err != nil {
		observability.RecordMFAEvent(ctx, "setup", "error")
		return nil, err
	}
	observability.RecordMFAEvent(ctx, "setup", "success")
	if err := s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &userID,
		EventType: "mfa_setup_started",
		Category:  domain.AuditCategoryMFA,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 10,
		IP:        ip,
	}); err != nil {
		return nil, err
	}
	return &MFASetup{Secret: key.Secret(), OTPAuthURL: key.URL(), BackupCodes: codes}, nil
}

// VerifyAndEnable confirms possession of the pending secret and activates
// enforcement. Until this succeeds the enrollment gates nothing.
func (s *MFAService) VerifyAndEnable(ctx context.Context, userID uint, code, ip string) error {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return ErrMFANotEnrolled
		}
		return err
	}
	if enrollment.Enabled {
		return ErrMFAAlreadyEnabled
	}
	if !validTOTP(enrollment.Secret, code) {
		observability.RecordMFAEvent(ctx, "enable", "invalid_code")
		if err := s.audit.Record(ctx, &domain.AuditEvent{
			UserID:    &userID,
			EventType: "mfa_verify_failed",
			Category:  domain.AuditCategoryMFA,
			Severity:  domain.AuditSeverityWarning,
			RiskScore: 40,
			IP:        ip,
		}); err != nil {
			return err
		}
		return ErrMFAInvalidCode
	}

	if err := s.repo.Enable(ctx, userID, time.Now().UTC()); err != nil {
		observability.RecordMFAEvent(ctx, "enable", "error")
		return err
	}
	observability.RecordMFAEvent(ctx, "enable", "success")
	return s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &userID,
		EventType: "mfa_enabled",
		Category:  domain.AuditCategoryMFA,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 10,
		IP:        ip,
	})
}

// Required reports whether a login for this user must present a second
// factor. A pending (not yet verified) enrollment gates nothing.
func (s *MFAService) Required(ctx context.Context, userID uint) (bool, error) {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return false, nil
		}
		return false, err
	}
	return enrollment.Enabled, nil
}

// VerifyLoginCode accepts a current TOTP code or an unused backup code.
// A matched backup code is consumed and never usable again.
func (s *MFAService) VerifyLoginCode(ctx context.Context, userID uint, code string) error {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return ErrMFANotEnrolled
		}
		return err
	}
	if !enrollment.Enabled {
		return nil
	}
	if err := s.proveOwnership(ctx, enrollment, code); err != nil {
		observability.RecordMFAEvent(ctx, "login_verify", "invalid_code")
		return err
	}
	observability.RecordMFAEvent(ctx, "login_verify", "success")
	return nil
}

// Disable tears down an enrollment. Requires fresh proof of possession so a
// hijacked session cannot silently weaken the account.
func (s *MFAService) Disable(ctx context.Context, userID uint, code, ip string) error {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return ErrMFANotEnrolled
		}
		return err
	}
	if err := s.proveOwnership(ctx, enrollment, code); err != nil {
		observability.RecordMFAEvent(ctx, "disable", "invalid_code")
		return err
	}
	if err := s.repo.Delete(ctx, userID); err != nil {
		observability.RecordMFAEvent(ctx, "disable", "error")
		return err
	}
	observability.RecordMFAEvent(ctx, "disable", "success")
	return s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &userID,
		EventType: "mfa_disabled",
		Category:  domain.AuditCategoryMFA,
		Severity:  domain.AuditSeverityWarning,
		RiskScore: 30,
		IP:        ip,
	})
}

// RegenerateBackupCodes invalidates every previous code and returns a new
// set. Requires fresh proof of possession.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID uint, code, ip string) ([]string, error) {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return nil, ErrMFANotEnrolled
		}
		return nil, err
	}
	if err := s.proveOwnership(ctx, enrollment, code); err != nil {
		observability.RecordMFAEvent(ctx, "regenerate_codes", "invalid_code")
		return nil, err
	}

	codes := make([]string, 0, s.backupCodeCount)
	hashes := make([]string, 0, s.backupCodeCount)
	for i := 0; i < s.backupCodeCount; i++ {
		c, err := security.NewBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		h, err := security.HashBackupCode(c)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}
		codes = append(codes, c)
		hashes = append(hashes, h)
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		observability.RecordMFAEvent(ctx, "regenerate_codes", "error")
		return nil, err
	}
	observability.RecordMFAEvent(ctx, "regenerate_codes", "success")
	if err := s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &userID,
		EventType: "mfa_backup_codes_regenerated",
		Category:  domain.AuditCategoryMFA,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 20,
		IP:        ip,
	}); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *MFAService) Status(ctx context.Context, userID uint) (*MFAStatus, error) {
	enrollment, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return &MFAStatus{}, nil
		}
		return nil, err
	}
	remaining, err := s.repo.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &MFAStatus{Enabled: enrollment.Enabled, BackupCodesRemaining: int(remaining)}, nil
}

// proveOwnership accepts a current TOTP code or spends an unused backup
// code. Touches last-verified-at on success.
func (s *MFAService) proveOwnership(ctx context.Context, enrollment *domain.MFAEnrollment, code string) error {
	now := time.Now().UTC()
	if validTOTP(enrollment.Secret, code) {
		if err := s.repo.TouchVerified(ctx, enrollment.UserID, now); err != nil {
			return err
		}
		return nil
	}

	codes, err := s.repo.ListUnusedBackupCodes(ctx, enrollment.UserID)
	if err != nil {
		return err
	}
	for _, c := range codes {
		if !security.VerifyBackupCode(c.CodeHash, code) {
			continue
		}
		consumed, err := s.repo.ConsumeBackupCode(ctx, c.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			// lost a race to a concurrent consumer
			continue
		}
		if err := s.repo.TouchVerified(ctx, enrollment.UserID, now); err != nil {
			return err
		}
		return nil
	}
	return ErrMFAInvalidCode
}

// validTOTP checks a code against the shared secret with one step of clock
// drift tolerance in each direction.
func validTOTP(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
