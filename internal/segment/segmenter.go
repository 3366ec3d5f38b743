package segment

import "strings"

// Segment is a speakable unit of text handed to the synthesizer.
type Segment string

// Options controls where the streaming segmenter cuts. All lengths count runes.
type Options struct {
	Lookback       int
	MinSegment     int
	ForceThreshold int
	ForceCut       int
}

func DefaultOptions() Options {
	return Options{Lookback: 50, MinSegment: 15, ForceThreshold: 60, ForceCut: 50}
}

var streamingPunctuation = map[rune]struct{}{
	'，': {}, ' ': {}, '。': {}, '！': {}, '？': {}, '；': {}, '：': {}, '、': {},
	'（': {}, '）': {}, '【': {}, '】': {}, '“': {}, '”': {},
	',': {}, '.': {}, '!': {}, '?': {}, ';': {}, ':': {},
	'(': {}, ')': {}, '[': {}, ']': {}, '"': {}, '\'': {},
}

// IsPunctuation reports whether r ends a segment in streaming mode.
func IsPunctuation(r rune) bool {
	_, ok := streamingPunctuation[r]
	return ok
}

// Segmenter accumulates streamed text and cuts it into segments. It is owned
// by a single session and is not safe for concurrent use.
type Segmenter struct {
	opts Options
	buf  []rune
}

// New returns a Segmenter for opts. Non-positive options fall back to the
// defaults and ForceCut is clamped to ForceThreshold.
func New(opts Options) *Segmenter {
	if opts.Lookback <= 0 || opts.MinSegment <= 0 || opts.ForceThreshold <= 0 || opts.ForceCut <= 0 {
		opts = DefaultOptions()
	}
	if opts.ForceCut > opts.ForceThreshold {
		opts.ForceCut = opts.ForceThreshold
	}
	return &Segmenter{opts: opts}
}

// Feed appends text and returns every segment that can be cut from the
// accumulator, in order.
func (s *Segmenter) Feed(text string) []Segment {
	if text == "" {
		return nil
	}
	s.buf = append(s.buf, []rune(text)...)

	var out []Segment
	for {
		cut := s.nextCut()
		if cut <= 0 {
			return out
		}
		out = append(out, Segment(string(s.buf[:cut])))
		s.buf = append(s.buf[:0:0], s.buf[cut:]...)
	}
}

// Flush returns the remaining text if it holds anything but whitespace and
// resets the accumulator.
func (s *Segmenter) Flush() (Segment, bool) {
	rest := string(s.buf)
	s.buf = nil
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return Segment(rest), true
}

// Pending returns the number of runes waiting for a cut.
func (s *Segmenter) Pending() int {
	return len(s.buf)
}

// Reset drops any accumulated text.
func (s *Segmenter) Reset() {
	s.buf = nil
}

func (s *Segmenter) nextCut() int {
	end := len(s.buf)
	start := end - s.opts.Lookback
	if start < 0 {
		start = 0
	}
	for i := end - 1; i >= start; i-- {
		if IsPunctuation(s.buf[i]) {
			if i+1 >= s.opts.MinSegment {
				return i + 1
			}
			break
		}
	}
	if end >= s.opts.ForceThreshold {
		return s.opts.ForceCut
	}
	return 0
}
