package stream

import (
	"encoding/json"
	"io"
	"net/http"
)

// Emitter writes NDJSON lines in call order and flushes after each one. It
// never retries; a write error ends the stream.
type Emitter struct {
	enc     *json.Encoder
	flusher http.Flusher
	lines   int
}

func NewEmitter(w io.Writer) *Emitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	e := &Emitter{enc: enc}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *Emitter) Emit(c Chunk) error {
	return e.write(c)
}

// EmitPrompt writes the metadata line carrying the recognized prompt.
func (e *Emitter) EmitPrompt(prompt string) error {
	return e.write(promptLine{Prompt: prompt})
}

// Lines returns how many lines were written successfully.
func (e *Emitter) Lines() int { return e.lines }

func (e *Emitter) write(v any) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	e.lines++
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
