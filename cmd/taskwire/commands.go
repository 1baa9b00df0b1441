package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/kazz187/taskwire/internal/archive"
	"github.com/kazz187/taskwire/internal/config"
	"github.com/kazz187/taskwire/internal/serializer"
)

func runDecode(file, format string, w io.Writer) error {
	data, err := readInput(file)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	r, _, err := decodeBytes(format, file, data)
	if err != nil {
		return err
	}
	out, err := renderYAML(r)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func runEncode(file, format string, env *config.Env, out string) error {
	data, err := readInput(file)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	r, err := parseYAML(data)
	if err != nil {
		return err
	}
	var s *serializer.Serializer
	if format != "" {
		f, err := serializer.ParseFormat(format)
		if err != nil {
			return err
		}
		s, err = newSerializer(f)
		if err != nil {
			return err
		}
	} else {
		s, err = serializer.NewFromEnv(config.SerializationEnvFromEnv(env))
		if err != nil {
			return err
		}
	}
	encoded, err := s.Encode(r)
	if err != nil {
		return err
	}
	return writeOutput(out, encoded)
}

func runTranscode(file, from, to, out string) error {
	data, err := readInput(file)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	encoded, err := transcode(file, from, to, data)
	if err != nil {
		return err
	}
	return writeOutput(out, encoded)
}

func transcode(file, from, to string, data []byte) ([]byte, error) {
	r, _, err := decodeBytes(from, file, data)
	if err != nil {
		return nil, err
	}
	target, err := serializer.ParseFormat(to)
	if err != nil {
		return nil, err
	}
	s, err := newSerializer(target)
	if err != nil {
		return nil, err
	}
	return s.Encode(r)
}

func runDiff(a, b, format string, colored bool, w io.Writer) error {
	left, err := decodeFileYAML(a, format)
	if err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	right, err := decodeFileYAML(b, format)
	if err != nil {
		return fmt.Errorf("%s: %w", b, err)
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: a,
		ToFile:   b,
		Context:  3,
	})
	if err != nil {
		return fmt.Errorf("failed to diff records: %w", err)
	}
	if diff == "" {
		return nil
	}
	return writeDiff(w, diff, colored)
}

func decodeFileYAML(file, format string) (string, error) {
	data, err := readInput(file)
	if err != nil {
		return "", err
	}
	r, _, err := decodeBytes(format, file, data)
	if err != nil {
		return "", err
	}
	out, err := renderYAML(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func writeDiff(w io.Writer, diff string, colored bool) error {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)
	for _, c := range []*color.Color{added, removed, hunk} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	for _, line := range difflib.SplitLines(diff) {
		var err error
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			_, err = fmt.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			_, err = hunk.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			_, err = added.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			_, err = removed.Fprint(w, line)
		default:
			_, err = fmt.Fprint(w, line)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func runArchiveList(ctx context.Context, a *archive.Archive, w io.Writer) error {
	records, err := a.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		parent := "-"
		if r.ParentUID != nil {
			parent = *r.ParentUID
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.UID, r.Status, r.Priority, parent, r.Headers["type"]); err != nil {
			return err
		}
	}
	return nil
}

func runArchiveShow(ctx context.Context, a *archive.Archive, uid string, w io.Writer) error {
	r, err := a.Get(ctx, uid)
	if err != nil {
		return err
	}
	out, err := renderYAML(r)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func runArchiveRejected(ctx context.Context, a *archive.Archive, w io.Writer) error {
	rejected, err := a.Rejected(ctx)
	if err != nil {
		return err
	}
	for _, rj := range rejected {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d bytes\t%s\n", rj.ID, rj.Ext, len(rj.Data), rj.Reason); err != nil {
			return err
		}
	}
	return nil
}
