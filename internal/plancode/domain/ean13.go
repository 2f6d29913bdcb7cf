package domain

import (
	"fmt"
	"math/rand"
)

// EAN13CheckDigit computes the check digit for a 12-digit payload: digits in
// odd positions count once, even positions three times, and the check digit
// rounds the sum up to the next multiple of ten.
func EAN13CheckDigit(payload string) (int, error) {
	if len(payload) != 12 {
		return 0, fmt.Errorf("ean13 payload must be 12 digits, got %d", len(payload))
	}
	sum := 0
	for i, r := range payload {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("ean13 payload has non-digit %q", r)
		}
		digit := int(r - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return (10 - sum%10) % 10, nil
}

// CompleteEAN13 appends the check digit to a 12-digit payload.
func CompleteEAN13(payload string) (string, error) {
	check, err := EAN13CheckDigit(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", payload, check), nil
}

// ValidEAN13 reports whether code is a well-formed EAN-13 number.
func ValidEAN13(code string) bool {
	if len(code) != 13 {
		return false
	}
	check, err := EAN13CheckDigit(code[:12])
	if err != nil {
		return false
	}
	return int(code[12]-'0') == check
}

// RandomEAN13 draws a random 12-digit payload in the 1xxxxxxxxxxx range and
// completes it.
func RandomEAN13(rng *rand.Rand) string {
	payload := fmt.Sprintf("%012d", 100000000000+rng.Int63n(100000000000))
	code, _ := CompleteEAN13(payload)
	return code
}
