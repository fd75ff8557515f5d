package domain

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
)

const (
	KB = 1024
	MB = 1024 * KB
)

// ParseDurationSec coerces a client supplied duration.
// Duration is best-effort metadata: anything that is not a finite,
// non-negative number becomes nil instead of failing the request.
func ParseDurationSec(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return nil
	}
	return &value
}

// DataURI embeds payload in a self-describing URL.
func DataURI(contentType string, payload []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
