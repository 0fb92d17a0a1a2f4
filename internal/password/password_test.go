package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/model"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(config.AuthConfig{BcryptCost: "4", StrengthMinScore: "4"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestHashVerifyRoundTrip(t *testing.T) {
	svc := testService(t)

	for _, plain := range []string{"a", "Corniche!2024", strings.Repeat("x", 128)} {
		digest, err := svc.Hash(plain)
		if err != nil {
			t.Fatalf("Hash(%q): %v", plain, err)
		}
		if !svc.Verify(plain, digest) {
			t.Fatalf("Verify failed for %q", plain)
		}
		if svc.Verify(plain+"?", digest) {
			t.Fatalf("Verify accepted wrong password for %q", plain)
		}
	}
}

func TestHashLongPasswords(t *testing.T) {
	svc := testService(t)

	// bcrypt stops reading at 72 bytes; the pre-digest keeps the full range
	// up to the 128-char ceiling usable.
	for _, n := range []int{72, 73, 100, 128} {
		plain := strings.Repeat("p", n-1) + "!"
		digest, err := svc.Hash(plain)
		if err != nil {
			t.Fatalf("Hash of %d-char password: %v", n, err)
		}
		if !svc.Verify(plain, digest) {
			t.Fatalf("Verify failed for %d-char password", n)
		}
	}

	// Characters beyond byte 72 must still distinguish passwords.
	base := strings.Repeat("x", 72)
	digest, err := svc.Hash(base + "AAAA")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if svc.Verify(base+"BBBB", digest) {
		t.Fatalf("suffix beyond 72 bytes was ignored")
	}
}

func TestHashRejectsEmptyAndTooLong(t *testing.T) {
	svc := testService(t)

	if _, err := svc.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := svc.Hash(strings.Repeat("a", 200)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestVerifyNeverErrors(t *testing.T) {
	svc := testService(t)

	if svc.Verify("", "digest") || svc.Verify("plain", "") || svc.Verify("", "") {
		t.Fatalf("Verify must be false for empty inputs")
	}
	if svc.Verify("plain", "not-a-bcrypt-digest") {
		t.Fatalf("Verify must be false for junk digest")
	}
}

func TestScoreStrengthRequirements(t *testing.T) {
	svc := testService(t)

	tests := []struct {
		plain string
		score int
		valid bool
	}{
		{"", 0, false},
		{"abc", 1, false},             // lowercase only
		{"abcdefgh", 2, false},        // +min length
		{"Abcdefg1", 4, true},         // +upper +digit
		{"Abcdefg1!", 5, true},        // +special
		{"Abcdefgh9!xx", 6, true},     // +length 12
		{"Abcdefgh9!xxxxxx", 7, true}, // +length 16
	}

	for _, tt := range tests {
		got := svc.ScoreStrength(tt.plain, model.LangEnglish)
		if got.Score != tt.score || got.Valid != tt.valid {
			t.Fatalf("ScoreStrength(%q) = score %d valid %v, want %d %v",
				tt.plain, got.Score, got.Valid, tt.score, tt.valid)
		}
	}
}

func TestScoreStrengthCommonPatternFeedbackOnly(t *testing.T) {
	svc := testService(t)

	strong := svc.ScoreStrength("Xkcdmqa9Ttz", model.LangEnglish)
	weakPattern := svc.ScoreStrength("Password123", model.LangEnglish)

	if weakPattern.Score != strong.Score {
		t.Fatalf("common pattern changed the score: %d vs %d", weakPattern.Score, strong.Score)
	}

	found := false
	for _, msg := range weakPattern.Feedback {
		if msg == messages[model.LangEnglish]["common"] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected common-pattern feedback, got %v", weakPattern.Feedback)
	}
}

func TestScoreStrengthLocalizedFeedback(t *testing.T) {
	svc := testService(t)

	ar := svc.ScoreStrength("abc", model.LangArabic)
	fr := svc.ScoreStrength("abc", model.LangFrench)

	if len(ar.Feedback) == 0 || len(fr.Feedback) == 0 {
		t.Fatalf("expected feedback for weak password")
	}
	if ar.Feedback[0] == fr.Feedback[0] {
		t.Fatalf("feedback not localized")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(config.AuthConfig{BcryptCost: "99", StrengthMinScore: "4"}); err == nil {
		t.Fatalf("expected error for out-of-range cost")
	}
	if _, err := New(config.AuthConfig{StrengthMinScore: "nope"}); err == nil {
		t.Fatalf("expected error for bad min score")
	}
}
