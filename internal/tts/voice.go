package tts

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultSpeed   = 1.0
	DefaultVoiceID = 0
)

// VoiceParameters are the per-request synthesis settings. Speed is always
// positive and VoiceID never negative.
type VoiceParameters struct {
	Speed   float64 `json:"speed"`
	VoiceID int     `json:"voice_id"`
}

func DefaultVoice() VoiceParameters {
	return VoiceParameters{Speed: DefaultSpeed, VoiceID: DefaultVoiceID}
}

// NormalizeVoice resolves raw request values into VoiceParameters. Each field
// may be a JSON number, a numeric string, null, an empty string or absent;
// anything unusable falls back to the default.
func NormalizeVoice(speed, voiceID json.RawMessage) VoiceParameters {
	params := DefaultVoice()

	if s, ok := rawScalar(speed); ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			params.Speed = v
		}
	}

	if s, quoted, ok := rawScalarQuoted(voiceID); ok {
		if quoted {
			if isASCIIDigits(s) {
				if v, err := strconv.Atoi(s); err == nil {
					params.VoiceID = v
				}
			}
		} else if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 && v <= math.MaxInt32 {
			params.VoiceID = int(math.Trunc(v))
		}
	}
	return params
}

func rawScalar(raw json.RawMessage) (string, bool) {
	s, _, ok := rawScalarQuoted(raw)
	return s, ok
}

// rawScalarQuoted unwraps a JSON string or returns the literal of any other
// value. null and empty inputs report ok=false.
func rawScalarQuoted(raw json.RawMessage) (string, bool, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", false, false
		}
		return s, true, true
	}
	return string(trimmed), false, true
}

func isASCIIDigits(s string) bool {
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
