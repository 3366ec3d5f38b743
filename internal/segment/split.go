package segment

import (
	"regexp"
	"unicode/utf8"
)

// fragmentPattern matches text up to and including the next boundary mark,
// or an unterminated run at the end of the input.
var fragmentPattern = regexp.MustCompile(`[^。？！；…，、()（）]*[。？！；…，、()（）]|[^。？！；…，、()（）]+`)

// Split breaks a complete text into segments of at least minLength runes.
// Boundary marks stay attached to the fragment they end, so concatenating
// the segments gives back text. A trailing remainder shorter than two runes
// is dropped.
func Split(text string, minLength int) []Segment {
	var segments []Segment
	var acc string
	for _, fragment := range fragments(text) {
		acc += fragment
		if utf8.RuneCountInString(acc) >= minLength {
			segments = append(segments, Segment(acc))
			acc = ""
		}
	}
	if utf8.RuneCountInString(acc) >= 2 {
		segments = append(segments, Segment(acc))
	}
	return segments
}

// fragments splits text after every boundary mark. Empty fragments never
// occur.
func fragments(text string) []string {
	return fragmentPattern.FindAllString(text, -1)
}
