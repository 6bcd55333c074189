package rules

import "strings"

// NIFStatus is the tri-state outcome of fiscal id validation. OCR
// misreads a single character often enough that a failed checksum is
// only a "maybe", not a hard rejection.
type NIFStatus string

const (
	NIFValid   NIFStatus = "valid"
	NIFMaybe   NIFStatus = "maybe"
	NIFInvalid NIFStatus = "invalid"
)

const (
	nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"
	cifLetters = "JABCDEFGHI"
)

// ValidateNIF checks a Spanish DNI, NIE or CIF, tolerating ES/EU
// prefixes for VAT identifiers.
func ValidateNIF(nif string) NIFStatus {
	if nif == "" {
		return NIFInvalid
	}
	code := strings.ToUpper(strings.TrimSpace(nif))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")

	if strings.HasPrefix(code, "ES") && len(code) > 2 {
		if ValidateNIF(code[2:]) == NIFValid {
			return NIFValid
		}
		return NIFMaybe
	}
	if strings.HasPrefix(code, "EU") && len(code) > 4 {
		return NIFValid
	}
	if len(code) < 8 || len(code) > 10 {
		return NIFInvalid
	}
	if allDigits(code) {
		return NIFInvalid
	}

	// DNI: eight digits plus control letter
	if len(code) == 9 && allDigits(code[:8]) && isLetter(code[8]) {
		n := atoi(code[:8])
		if nifLetters[n%23] == code[8] {
			return NIFValid
		}
		return NIFMaybe
	}

	// NIE: X/Y/Z prefix mapped to a digit, then DNI rules
	if len(code) == 9 && strings.ContainsRune("XYZ", rune(code[0])) && allDigits(code[1:8]) && isLetter(code[8]) {
		prefix := map[byte]string{'X': "0", 'Y': "1", 'Z': "2"}[code[0]]
		n := atoi(prefix + code[1:8])
		if nifLetters[n%23] == code[8] {
			return NIFValid
		}
		return NIFMaybe
	}

	// CIF: organization letter, seven digits, control digit or letter
	if len(code) == 9 && strings.ContainsRune("ABCDEFGHJNPQRSUVW", rune(code[0])) && allDigits(code[1:8]) {
		digits := code[1:8]
		evenSum := 0
		for i := 1; i < len(digits); i += 2 {
			evenSum += int(digits[i] - '0')
		}
		oddSum := 0
		for i := 0; i < len(digits); i += 2 {
			prod := int(digits[i]-'0') * 2
			oddSum += prod/10 + prod%10
		}
		control := (10 - (evenSum+oddSum)%10) % 10
		expectedDigit := byte('0' + control)
		expectedLetter := cifLetters[control]
		last := code[8]
		if strings.ContainsRune("PQRSNW", rune(code[0])) {
			if last == expectedLetter {
				return NIFValid
			}
			return NIFMaybe
		}
		if strings.ContainsRune("ABEH", rune(code[0])) {
			if last == expectedDigit {
				return NIFValid
			}
			return NIFMaybe
		}
		if last == expectedDigit || last == expectedLetter {
			return NIFValid
		}
		return NIFMaybe
	}

	// Plausible length but unknown shape
	return NIFMaybe
}

func allDigits(s string) bool {
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

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
