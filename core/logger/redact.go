package logger

import "strings"

// maskPersonal masks contact details collected from clients. Other keys pass
// through unchanged.
func maskPersonal(key string, val any) any {
	s, ok := val.(string)
	if !ok || s == "" {
		return val
	}
	switch key {
	case "phone":
		return MaskPhone(s)
	case "email":
		return MaskEmail(s)
	case "name", "client_name":
		return maskTail(s, 1)
	}
	return val
}

// MaskPhone keeps the last two digits: "+380501112233" becomes "***33".
func MaskPhone(s string) string {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) <= 2 {
		return "***"
	}
	return "***" + string(digits[len(digits)-2:])
}

// MaskEmail keeps the first rune of the local part and the domain.
func MaskEmail(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok {
		return maskTail(s, 1)
	}
	return maskTail(local, 1) + "@" + domain
}

func maskTail(s string, keep int) string {
	runes := []rune(s)
	if len(runes) <= keep {
		return "***"
	}
	return string(runes[:keep]) + "***"
}
