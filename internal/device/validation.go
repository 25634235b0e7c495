package device

import (
	"fmt"
	"strings"
	"unicode"
)

const maxIDLength = 255

// ValidateDevice checks the fields every committed record needs.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.ID == "" || len(d.ID) > maxIDLength {
		return fmt.Errorf("%w: id must be 1-%d characters", ErrInvalidDevice, maxIDLength)
	}
	if strings.IndexFunc(d.ID, unicode.IsSpace) >= 0 || strings.Contains(d.ID, "/") {
		return fmt.Errorf("%w: id %q contains whitespace or '/'", ErrInvalidDevice, d.ID)
	}
	if d.Bus == "" {
		return fmt.Errorf("%w: bus is required", ErrInvalidDevice)
	}

	seen := make(map[string]struct{}, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c == "" {
			return fmt.Errorf("%w: empty capability", ErrInvalidDevice)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidDevice, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// SanitizeID maps an arbitrary path to an identifier fragment: runs of
// characters other than letters, digits, '.', '-' and '_' become '_'.
func SanitizeID(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
