package password

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordLength = 128

var (
	ErrEmptyPassword = errors.New("password is empty")
	ErrTooLong       = errors.New("password exceeds 128 characters")
	ErrMisconfigured = errors.New("password config invalid")
)

type Service struct {
	cost     int
	minScore int
}

func New(cfg config.AuthConfig) (*Service, error) {
	cost := bcrypt.DefaultCost
	if cfg.BcryptCost != "" {
		parsed, err := strconv.Atoi(cfg.BcryptCost)
		if err != nil || parsed < bcrypt.MinCost || parsed > bcrypt.MaxCost {
			return nil, fmt.Errorf("%w: invalid BCRYPT_COST", ErrMisconfigured)
		}
		cost = parsed
	}

	minScore, err := strconv.Atoi(cfg.StrengthMinScore)
	if err != nil || minScore < 0 || minScore > 7 {
		return nil, fmt.Errorf("%w: invalid AUTH_STRENGTH_MIN_SCORE", ErrMisconfigured)
	}

	return &Service{cost: cost, minScore: minScore}, nil
}

func (s *Service) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	if len(plain) > maxPasswordLength {
		return "", ErrTooLong
	}

	digest, err := bcrypt.GenerateFromPassword(prehash(plain), s.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify never returns an error: empty inputs and mismatches are both false.
func (s *Service) Verify(plain, digest string) bool {
	if plain == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(plain)) == nil
}

// bcrypt only reads the first 72 bytes of its input, so the plaintext is
// digested to a fixed-length encoding first. Every character up to the
// 128-char ceiling then contributes to the hash.
func prehash(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}

type Strength struct {
	Valid        bool            `json:"valid"`
	Score        int             `json:"score"`
	Feedback     []string        `json:"feedback"`
	Requirements map[string]bool `json:"requirements"`
}

// Requirement keys; each is scored independently.
const (
	ReqMinLength = "minLength"
	ReqUppercase = "uppercase"
	ReqLowercase = "lowercase"
	ReqDigit     = "digit"
	ReqSpecial   = "special"
	ReqLength12  = "length12"
	ReqLength16  = "length16"
)

// ScoreStrength evaluates the seven independent requirements and localizes
// feedback for the given language. Common weak patterns add feedback but do
// not move the numeric score.
func (s *Service) ScoreStrength(plain string, lang model.Language) Strength {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	reqs := map[string]bool{
		ReqMinLength: len(plain) >= 8,
		ReqUppercase: hasUpper,
		ReqLowercase: hasLower,
		ReqDigit:     hasDigit,
		ReqSpecial:   hasSpecial,
		ReqLength12:  len(plain) >= 12,
		ReqLength16:  len(plain) >= 16,
	}

	score := 0
	var feedback []string
	for _, key := range []string{ReqMinLength, ReqUppercase, ReqLowercase, ReqDigit, ReqSpecial, ReqLength12, ReqLength16} {
		if reqs[key] {
			score++
		} else {
			feedback = append(feedback, message(lang, key))
		}
	}

	if isCommonPattern(plain) {
		feedback = append(feedback, message(lang, "common"))
	}

	return Strength{
		Valid:        score >= s.minScore,
		Score:        score,
		Feedback:     feedback,
		Requirements: reqs,
	}
}

var commonPatterns = []string{
	"password", "motdepasse", "azerty", "qwerty", "123456", "abcdef", "admin",
}

func isCommonPattern(plain string) bool {
	lower := strings.ToLower(plain)
	for _, p := range commonPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var messages = map[model.Language]map[string]string{
	model.LangFrench: {
		ReqMinLength: "Le mot de passe doit contenir au moins 8 caractères",
		ReqUppercase: "Ajoutez une lettre majuscule",
		ReqLowercase: "Ajoutez une lettre minuscule",
		ReqDigit:     "Ajoutez un chiffre",
		ReqSpecial:   "Ajoutez un caractère spécial",
		ReqLength12:  "12 caractères ou plus renforcent le mot de passe",
		ReqLength16:  "16 caractères ou plus renforcent encore le mot de passe",
		"common":     "Évitez les mots de passe courants",
	},
	model.LangArabic: {
		ReqMinLength: "يجب أن تتكون كلمة المرور من 8 أحرف على الأقل",
		ReqUppercase: "أضف حرفًا كبيرًا",
		ReqLowercase: "أضف حرفًا صغيرًا",
		ReqDigit:     "أضف رقمًا",
		ReqSpecial:   "أضف رمزًا خاصًا",
		ReqLength12:  "استخدام 12 حرفًا أو أكثر يقوّي كلمة المرور",
		ReqLength16:  "استخدام 16 حرفًا أو أكثر يقوّيها أكثر",
		"common":     "تجنّب كلمات المرور الشائعة",
	},
	model.LangEnglish: {
		ReqMinLength: "Password must be at least 8 characters",
		ReqUppercase: "Add an uppercase letter",
		ReqLowercase: "Add a lowercase letter",
		ReqDigit:     "Add a digit",
		ReqSpecial:   "Add a special character",
		ReqLength12:  "12 or more characters make it stronger",
		ReqLength16:  "16 or more characters make it stronger still",
		"common":     "Avoid common passwords",
	},
}

func message(lang model.Language, key string) string {
	if m, ok := messages[lang]; ok {
		if msg, ok := m[key]; ok {
			return msg
		}
	}
	return messages[model.LangFrench][key]
}
