package types

import (
	"errors"
	"fmt"
	"strings"
)

// AssetIdentity is a validated, lower-cased hostname. It is the join key
// across every probe result.
type AssetIdentity string

const maxHostnameLength = 253

var ErrInvalidHostname = errors.New("invalid hostname")

// NewAssetIdentity normalises and validates a hostname.
func NewAssetIdentity(raw string) (AssetIdentity, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.TrimSuffix(host, ".")

	if host == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHostname)
	}
	if len(host) > maxHostnameLength {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidHostname, len(host), maxHostnameLength)
	}

	for _, label := range strings.Split(host, ".") {
		if err := validateLabel(label); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidHostname, raw, err)
		}
	}
	return AssetIdentity(host), nil
}

func validateLabel(label string) error {
	if label == "" {
		return errors.New("empty label")
	}
	if len(label) > 63 {
		return fmt.Errorf("label %q longer than 63 characters", label)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with a hyphen", label)
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return fmt.Errorf("label %q contains %q", label, r)
		}
	}
	return nil
}

func (a AssetIdentity) String() string {
	return string(a)
}
