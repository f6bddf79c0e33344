package device

import (
	"fmt"
	"net"
	"strings"
)

// NormalizeAddress returns addr as upper-case colon-separated BD_ADDR
// ("AA:BB:CC:DD:EE:FF"). Dashes are accepted as separators.
func NormalizeAddress(addr string) (string, error) {
	hw, err := net.ParseMAC(strings.ReplaceAll(strings.TrimSpace(addr), "-", ":"))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("invalid Bluetooth address %q", addr)
	}
	return strings.ToUpper(hw.String()), nil
}

// IsAddress reports whether s parses as a Bluetooth address.
func IsAddress(s string) bool {
	_, err := NormalizeAddress(s)
	return err == nil
}

// ParseAddress converts addr to the little-endian byte order the kernel
// expects in sockaddr_rc.
func ParseAddress(addr string) ([6]byte, error) {
	var b [6]byte
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return b, err
	}
	hw, _ := net.ParseMAC(norm)
	for i := 0; i < 6; i++ {
		b[i] = hw[5-i]
	}
	return b, nil
}
