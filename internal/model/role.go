package model

import "fmt"

// Role is the closed set of membership roles. Values outside the set are
// rejected once at the boundary (ParseRole); downstream code never re-checks.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleEditor    Role = "editor"
	RoleVolunteer Role = "volunteer"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleEditor, RoleVolunteer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	return string(r)
}

// Language is the site's supported locales for localized feedback.
type Language string

const (
	LangFrench  Language = "fr"
	LangArabic  Language = "ar"
	LangEnglish Language = "en"
)

func ParseLanguage(s string) Language {
	switch Language(s) {
	case LangFrench, LangArabic, LangEnglish:
		return Language(s)
	default:
		return LangFrench
	}
}
