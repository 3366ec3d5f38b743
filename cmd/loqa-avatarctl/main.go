package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/capability"
	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/segment"
	"github.com/loqalabs/loqa-avatar/internal/stream"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'probe', 'segment' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "probe":
		err = runProbe(os.Args[2:], os.Stdout)
	case "segment":
		err = runSegment(os.Args[2:], os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type probeReport struct {
	Descriptor    capability.Descriptor `json:"descriptor"`
	Collaborators []capability.Status   `json:"collaborators"`
}

func runProbe(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	verbose := fs.Bool("v", false, "Log probe progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reg, err := capability.Probe(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(probeReport{Descriptor: reg.Descriptor(), Collaborators: reg.Statuses()})
}

func runSegment(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("segment", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	text := fs.String("text", "", "Text to segment; read from stdin when empty")
	static := fs.Bool("static", false, "Use the whole-answer splitter instead of the streaming segmenter")
	delta := fs.Int("delta", 3, "Runes per simulated stream delta")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	input := *text
	if input == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = strings.TrimRight(string(data), "\r\n")
	}
	if strings.TrimSpace(input) == "" {
		return errors.New("no text to segment")
	}

	var segments []segment.Segment
	if *static {
		segments = segment.Split(input, cfg.Stream.StaticMinLength)
	} else {
		segments = streamSegments(input, stream.SegmentOptions(cfg.Stream), *delta)
	}
	for _, s := range segments {
		if _, err := fmt.Fprintln(out, string(s)); err != nil {
			return err
		}
	}
	return nil
}

// streamSegments feeds text in deltas the way a live source would.
func streamSegments(text string, opts segment.Options, delta int) []segment.Segment {
	if delta <= 0 {
		delta = 1
	}
	seg := segment.New(opts)
	runes := []rune(text)
	var out []segment.Segment
	for i := 0; i < len(runes); i += delta {
		end := min(i+delta, len(runes))
		out = append(out, seg.Feed(string(runes[i:end]))...)
	}
	if rest, ok := seg.Flush(); ok {
		out = append(out, rest)
	}
	return out
}
