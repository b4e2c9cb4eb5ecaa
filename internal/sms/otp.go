package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/util"
)

// OTP tuning constants.
const (
	OTPCodeLength        = 6
	DefaultOTPExpiry     = 5 * time.Minute
	DefaultOTPMaxAttempt = 5
)

// OTP verification errors.
var (
	ErrOTPNotFound     = errors.New("no pending verification code for this phone")
	ErrOTPExpired      = errors.New("verification code expired")
	ErrOTPMismatch     = errors.New("verification code does not match")
	ErrOTPTooManyTries = errors.New("too many verification attempts")
)

type otpEntry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// OTPManager issues and verifies one-time SMS codes, keyed by phone number.
// A phone holds at most one pending code; reissuing replaces it.
type OTPManager struct {
	mu      sync.Mutex
	pending map[string]*otpEntry

	sender      Sender
	expiry      time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewOTPManager creates a manager sending codes through sender.
func NewOTPManager(sender Sender) *OTPManager {
	return &OTPManager{
		pending:     make(map[string]*otpEntry),
		sender:      sender,
		expiry:      DefaultOTPExpiry,
		maxAttempts: DefaultOTPMaxAttempt,
		now:         time.Now,
	}
}

// Send issues a fresh code to the phone and delivers it via SMS. Any
// previously pending code for the phone is replaced.
func (m *OTPManager) Send(ctx context.Context, phone string) error {
	if phone == "" {
		return models.ErrEmptyPhone
	}

	code := util.GenerateOTPCode(OTPCodeLength)
	body := fmt.Sprintf("VisitPipe dogrulama kodunuz: %s", code)
	if err := m.sender.SendSMS(ctx, phone, body); err != nil {
		return fmt.Errorf("failed to deliver verification code: %w", err)
	}

	m.mu.Lock()
	m.pending[phone] = &otpEntry{
		code:      code,
		expiresAt: m.now().Add(m.expiry),
	}
	m.mu.Unlock()

	slog.Debug("OTP issued", "phone", phone)
	return nil
}

// Verify checks a submitted code. The pending entry is consumed on success
// and on expiry; mismatches keep it pending until the attempt cap is hit.
func (m *OTPManager) Verify(phone, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[phone]
	if !ok {
		return ErrOTPNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.pending, phone)
		return ErrOTPExpired
	}
	entry.attempts++
	if entry.attempts > m.maxAttempts {
		delete(m.pending, phone)
		slog.Warn("OTP attempt cap exceeded", "phone", phone)
		return ErrOTPTooManyTries
	}
	if entry.code != code {
		return ErrOTPMismatch
	}

	delete(m.pending, phone)
	slog.Debug("OTP verified", "phone", phone)
	return nil
}
