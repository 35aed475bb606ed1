package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateSerialNumber returns a serial number for a robot registered
// without one.
func GenerateSerialNumber() string {
	return "AMB-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// GenerateActionID generates a unique action ID with prefix
func GenerateActionID() string {
	return fmt.Sprintf("action_%s", uuid.NewString())
}
