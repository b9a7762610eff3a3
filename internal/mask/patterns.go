package mask

import (
	"regexp"
	"strings"
)

// Pattern is one ordered redaction rule. Mask rewrites a single match;
// it must never produce output the pattern itself would match again.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
	Mask  func(match string) string
}

var passwordRegex = regexp.MustCompile(`(?i)\b(password|passwd|pwd|senha)\b(\s*[:=]\s*)([^\s*]\S*)`)

// builtinPatterns returns the v1 pattern table. Order is significant:
// earlier replacements alter the input seen by later patterns, and the
// document patterns must run before phone so that an unformatted CPF is
// never half-eaten as a phone number.
func builtinPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:  "cpf",
			Regex: regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
			Mask:  maskCPF,
		},
		{
			Name:  "cnpj",
			Regex: regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`),
			Mask:  func(string) string { return "**.***.***/****-**" },
		},
		{
			Name:  "rg",
			Regex: regexp.MustCompile(`\b\d{1,2}\.?\d{3}\.?\d{3}-?[0-9X]\b`),
			Mask:  func(string) string { return "**.***.***-*" },
		},
		{
			Name:  "email",
			Regex: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Mask:  maskEmail,
		},
		{
			Name:  "phone",
			Regex: regexp.MustCompile(`\b(?:\+55\s?)?\(?[1-9]{2}\)?\s?9?\d{4}-?\d{4}\b`),
			Mask:  maskPhone,
		},
		{
			Name:  "credit_card",
			Regex: regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
			Mask:  maskCreditCard,
		},
		{
			Name:  "password",
			Regex: passwordRegex,
			Mask:  maskPassword,
		},
	}
}

// maskCPF keeps the last two characters for debuggability.
func maskCPF(match string) string {
	if len(match) >= 11 {
		return "***.***.***-" + match[len(match)-2:]
	}
	return "***.***.**-**"
}

// maskEmail keeps the first character of the local part and the full domain.
func maskEmail(match string) string {
	at := strings.IndexByte(match, '@')
	if at <= 0 {
		return "***@***"
	}
	return match[:1] + "***" + match[at:]
}

// maskPhone keeps the last four digits.
func maskPhone(match string) string {
	digits := digitsOnly(match)
	if len(digits) >= 8 {
		return "(***) ***-" + digits[len(digits)-4:]
	}
	return "(***) ***-****"
}

// maskCreditCard keeps the last four digits.
func maskCreditCard(match string) string {
	digits := digitsOnly(match)
	if len(digits) >= 4 {
		return "**** **** **** " + digits[len(digits)-4:]
	}
	return "**** **** **** ****"
}

// maskPassword keeps the keyword and separator, replaces the value. The
// value class excludes a leading asterisk so masked output cannot match.
func maskPassword(match string) string {
	sub := passwordRegex.FindStringSubmatch(match)
	if len(sub) == 4 {
		return sub[1] + sub[2] + "********"
	}
	return "********"
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
