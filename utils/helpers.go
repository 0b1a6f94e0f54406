package utils

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// ExtractCallerPhone returns the user part of the From header, or "unknown".
func ExtractCallerPhone(headers []sip.Header) string {
	for _, header := range headers {
		if !strings.EqualFold(header.Name(), "From") {
			continue
		}
		from := header.Value()
		if i := strings.Index(from, "<"); i >= 0 {
			from = from[i+1:]
		}
		from = strings.TrimSuffix(strings.SplitN(from, ">", 2)[0], ">")
		if after, ok := strings.CutPrefix(from, "sip:"); ok {
			user := strings.SplitN(after, "@", 2)[0]
			if user != "" {
				return user
			}
		}
	}
	return "unknown"
}

func GenerateCallID() string {
	return "call_" + uuid.NewString()
}

func GenerateBridgeID() string {
	return "bridge_" + uuid.NewString()
}
