package sms

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
)

const testPhone = "+905551112233"

// sentCode extracts the OTP code from the last message delivered to the mock.
func sentCode(t *testing.T, mock *MockSender) string {
	t.Helper()
	if len(mock.SentMessages) == 0 {
		t.Fatal("no SMS messages sent")
	}
	body := mock.SentMessages[len(mock.SentMessages)-1].Body
	idx := strings.LastIndex(body, " ")
	if idx < 0 {
		t.Fatalf("unexpected SMS body %q", body)
	}
	code := body[idx+1:]
	if len(code) != OTPCodeLength {
		t.Fatalf("expected %d-digit code, got %q", OTPCodeLength, code)
	}
	return code
}

func TestOTPSendAndVerify(t *testing.T) {
	mock := NewMockSender()
	m := NewOTPManager(mock)

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	code := sentCode(t, mock)

	if err := m.Verify(testPhone, code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// The code is consumed on success.
	if err := m.Verify(testPhone, code); !errors.Is(err, ErrOTPNotFound) {
		t.Errorf("expected ErrOTPNotFound after consumption, got %v", err)
	}
}

func TestOTPSendRequiresPhone(t *testing.T) {
	m := NewOTPManager(NewMockSender())
	if err := m.Send(context.Background(), ""); !errors.Is(err, models.ErrEmptyPhone) {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
}

func TestOTPVerifyWithoutPendingCode(t *testing.T) {
	m := NewOTPManager(NewMockSender())
	if err := m.Verify(testPhone, "123456"); !errors.Is(err, ErrOTPNotFound) {
		t.Errorf("expected ErrOTPNotFound, got %v", err)
	}
}

func TestOTPMismatchKeepsCodePending(t *testing.T) {
	mock := NewMockSender()
	m := NewOTPManager(mock)

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	code := sentCode(t, mock)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := m.Verify(testPhone, wrong); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("expected ErrOTPMismatch, got %v", err)
	}

	// The right code still works after a mismatch.
	if err := m.Verify(testPhone, code); err != nil {
		t.Errorf("Verify after mismatch failed: %v", err)
	}
}

func TestOTPExpiry(t *testing.T) {
	mock := NewMockSender()
	m := NewOTPManager(mock)

	current := time.Now()
	m.now = func() time.Time { return current }

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	code := sentCode(t, mock)

	current = current.Add(DefaultOTPExpiry + time.Second)
	if err := m.Verify(testPhone, code); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}

	// Expiry consumes the entry.
	if err := m.Verify(testPhone, code); !errors.Is(err, ErrOTPNotFound) {
		t.Errorf("expected ErrOTPNotFound after expiry, got %v", err)
	}
}

func TestOTPAttemptCap(t *testing.T) {
	mock := NewMockSender()
	m := NewOTPManager(mock)

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	code := sentCode(t, mock)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < DefaultOTPMaxAttempt; i++ {
		if err := m.Verify(testPhone, wrong); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected ErrOTPMismatch, got %v", i+1, err)
		}
	}

	// The correct code is rejected once the cap is hit, and the entry is gone.
	if err := m.Verify(testPhone, code); !errors.Is(err, ErrOTPTooManyTries) {
		t.Fatalf("expected ErrOTPTooManyTries, got %v", err)
	}
	if err := m.Verify(testPhone, code); !errors.Is(err, ErrOTPNotFound) {
		t.Errorf("expected ErrOTPNotFound after cap, got %v", err)
	}
}

func TestOTPReissueReplacesPendingCode(t *testing.T) {
	mock := NewMockSender()
	m := NewOTPManager(mock)

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	first := sentCode(t, mock)

	if err := m.Send(context.Background(), testPhone); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	second := sentCode(t, mock)

	if first != second {
		if err := m.Verify(testPhone, first); !errors.Is(err, ErrOTPMismatch) {
			t.Errorf("expected old code rejected, got %v", err)
		}
	}
	if err := m.Verify(testPhone, second); err != nil {
		t.Errorf("Verify with reissued code failed: %v", err)
	}
}

func TestOTPSendPropagatesDeliveryFailure(t *testing.T) {
	mock := NewMockSender()
	mock.FailNext = errors.New("carrier timeout")
	m := NewOTPManager(mock)

	if err := m.Send(context.Background(), testPhone); err == nil {
		t.Fatal("expected delivery error")
	}

	// No code should be pending after a failed delivery.
	if err := m.Verify(testPhone, "123456"); !errors.Is(err, ErrOTPNotFound) {
		t.Errorf("expected ErrOTPNotFound, got %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+905550000000")); err != nil {
		t.Errorf("expected client with full credentials, got error: %v", err)
	}
}
