package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// secretOrEphemeral returns the configured secret or a random one that lives as long as the process.
func secretOrEphemeral(configured, name string) (string, error) {
	if s := strings.TrimSpace(configured); s != "" {
		return s, nil
	}
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate %s fallback: %w", name, err)
	}
	log.Warnf("%s is not set; using ephemeral in-memory fallback secret", name)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
