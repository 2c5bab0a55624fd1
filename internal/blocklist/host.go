package blocklist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidHost is returned when a host cannot be brought into canonical form.
var ErrInvalidHost = errors.New("invalid host")

// hostProfile maps names the way browsers do before a lookup: width and case
// folding, no STD3 restriction, no hyphen placement checks.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.CheckHyphens(false),
	idna.StrictDomainName(false),
)

// Forbidden in a domain after mapping.
const forbiddenDomain = "\x00\t\n\r #%/:<>?@[\\]^|\x7f"

// Canonicalize returns host in the form the blocklist is matched against.
//
// Numeric hosts are read as IPv4 addresses with 1 to 4 dotted parts, each
// decimal, octal (leading 0) or hex (0x), and returned as a dotted quad:
// "2130706433", "0x7f.1" and "0177.0.0.1" all become "127.0.0.1". Names are
// converted to lower-case ASCII via IDNA, so "ｌｏｃａｌｈｏｓｔ" becomes
// "localhost". A name whose last label is numeric must be a valid IPv4
// address. IPv6 literals, with or without brackets, are returned unchanged.
func Canonicalize(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHost)
	}
	if strings.HasPrefix(host, "[") || strings.Contains(host, ":") {
		return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")), nil
	}

	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHost, err)
	}
	ascii = strings.ToLower(ascii)
	if ascii == "" {
		return "", fmt.Errorf("%w: empty after mapping", ErrInvalidHost)
	}
	if strings.ContainsAny(ascii, forbiddenDomain) {
		return "", fmt.Errorf("%w: forbidden character in %q", ErrInvalidHost, ascii)
	}

	if !endsInNumber(ascii) {
		return ascii, nil
	}
	addr, err := parseIPv4(ascii)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHost, err)
	}
	return addr, nil
}

// endsInNumber reports whether the last label (ignoring one trailing dot)
// makes the host an IPv4 candidate.
func endsInNumber(host string) bool {
	parts := strings.Split(host, ".")
	if parts[len(parts)-1] == "" {
		if len(parts) == 1 {
			return false
		}
		parts = parts[:len(parts)-1]
	}
	last := parts[len(parts)-1]
	if last != "" && strings.Trim(last, "0123456789") == "" {
		return true
	}
	_, err := parseIPv4Part(last)
	return err == nil
}

func parseIPv4(host string) (string, error) {
	parts := strings.Split(host, ".")
	if parts[len(parts)-1] == "" && len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > 4 {
		return "", fmt.Errorf("ipv4 %q: too many parts", host)
	}

	nums := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := parseIPv4Part(p)
		if err != nil {
			return "", fmt.Errorf("ipv4 %q: %w", host, err)
		}
		nums[i] = n
	}

	for _, n := range nums[:len(nums)-1] {
		if n > 255 {
			return "", fmt.Errorf("ipv4 %q: part out of range", host)
		}
	}
	last := nums[len(nums)-1]
	if last >= 1<<(8*(5-len(nums))) {
		return "", fmt.Errorf("ipv4 %q: last part out of range", host)
	}

	addr := last
	for i, n := range nums[:len(nums)-1] {
		addr += n << (8 * (3 - i))
	}
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)), nil
}

// parseIPv4Part reads one dotted part: "0x" hex (possibly empty), leading-zero
// octal, or decimal.
func parseIPv4Part(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty part")
	}
	base := 10
	switch {
	case len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X"):
		s, base = s[2:], 16
		if s == "" {
			return 0, nil
		}
	case len(s) >= 2 && s[0] == '0':
		s, base = s[1:], 8
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 1 << 40, nil
		}
		return 0, fmt.Errorf("bad part %q", s)
	}
	return n, nil
}
