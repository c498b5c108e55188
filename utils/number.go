package utils

import "math"

// ParseInt mimics parseInt(s, 10) for the leading run of decimal digits.
func ParseInt(val string) float64 {
	if val == "" {
		return math.NaN()
	}

	sign := 1
	switch val[0] {
	case '-':
		sign = -1
		val = val[1:]
	case '+':
		val = val[1:]
	}

	result := 0
	digits := 0
	for i := 0; i < len(val); i++ {
		if val[i] < '0' || val[i] > '9' {
			break
		}
		result = result*10 + int(val[i]-'0')
		digits++
	}
	if digits == 0 {
		return math.NaN()
	}

	return float64(sign * result)
}

// IsDigits reports whether s is a non-empty run of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsHex reports whether s parses as a hexadecimal number.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
