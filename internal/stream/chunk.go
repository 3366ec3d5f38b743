package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidInputMode = errors.New("input_mode must be \"text\" or \"audio\"")
	ErrMissingPrompt    = errors.New("prompt is required when input_mode is \"text\"")
	ErrInvalidAudio     = errors.New("audio must be non-empty base64")
	ErrSourceFailed     = errors.New("text source failed")
)

// Chunk is one synthesized segment as delivered to the client.
type Chunk struct {
	Text     string
	Audio    []byte
	Endpoint bool
}

type wireChunk struct {
	Text     string `json:"text"`
	Audio    string `json:"audio"`
	Endpoint bool   `json:"endpoint"`
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	wire := wireChunk{Text: c.Text, Endpoint: c.Endpoint}
	if len(c.Audio) > 0 {
		wire.Audio = base64.StdEncoding.EncodeToString(c.Audio)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *Chunk) UnmarshalJSON(data []byte) error {
	var wire wireChunk
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Text = wire.Text
	c.Endpoint = wire.Endpoint
	c.Audio = nil
	if wire.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(wire.Audio)
		if err != nil {
			return err
		}
		c.Audio = audio
	}
	return nil
}

type promptLine struct {
	Prompt string `json:"prompt"`
}
