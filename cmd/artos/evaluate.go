package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/artos/api"
)

func runEvaluate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	var m modelFlags
	m.register(fs)
	repo := fs.String("repo", "", "Image repository directory (default repository.root)")
	synset := fs.String("synset", "", "Synset whose images are the positives")
	negatives := fs.Int("negatives", 0, "When positive, add the images of every other synset as negatives")
	overlap := fs.Float64("overlap", 0, "Minimum IoU of a true positive (default evaluation.overlap)")
	granularity := fs.Int("granularity", -1, "Pyramid interval override, 0 keeps the detector's (default evaluation.granularity)")
	dump := fs.String("dump", "", "Write the raw curves to this file")
	report := fs.String("report", "", "Write an HTML report to this file")
	plot := fs.String("plot", "", "Write a precision-recall plot (.png, .svg or .pdf) to this file")
	var negFiles paramList
	fs.Var(&negFiles, "neg", "Negative image file (repeatable)")
	var posFiles paramList
	fs.Var(&posFiles, "pos", "Positive image:annotation file pair (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	cfg := tk.Config()
	h, err := m.detector(tk, c.debug)
	if err != nil {
		return err
	}

	if *synset != "" {
		root := firstNonEmpty(*repo, cfg.GetRepositoryRoot())
		if root == "" {
			return errors.New("--repo is required with --synset")
		}
		if st := tk.EvaluatorAddSamplesFromSynset(h, root, *synset, *negatives); st != api.OK {
			return fmt.Errorf("synset %s: %w", *synset, st.Err())
		}
	}
	for _, pair := range posFiles {
		img, ann, ok := cutPair(pair)
		if !ok {
			return fmt.Errorf("expected image:annotation, got %q", pair)
		}
		if st := tk.EvaluatorAddPositiveFile(h, img, ann); st != api.OK {
			return fmt.Errorf("%s: %w", img, st.Err())
		}
	}
	for _, path := range negFiles {
		if st := tk.EvaluatorAddNegativeFile(h, path); st != api.OK {
			return fmt.Errorf("%s: %w", path, st.Err())
		}
	}

	gran := cfg.GetGranularity()
	if *granularity >= 0 {
		gran = *granularity
	}
	eq := cfg.GetEvalOverlap()
	if *overlap > 0 {
		eq = *overlap
	}
	printer := progressPrinter{out: out, label: "evaluate"}
	if st := tk.EvaluatorRun(ctx, h, gran, eq, printer.simple); st != api.OK {
		return st.Err()
	}

	for i := 0; ; i++ {
		f, th, st := tk.EvaluatorGetMaxFMeasure(h, i)
		if st == api.IndexOutOfBounds {
			break
		}
		if st == api.DetectNoResults {
			fmt.Fprintf(out, "model %d: no detections\n", i)
			continue
		}
		if st != api.OK {
			return st.Err()
		}
		ap, _ := tk.EvaluatorGetAP(h, i)
		fmt.Fprintf(out, "model %d: max F %.4f at threshold %.4f, AP %.4f\n", i, f, th, ap)
	}

	outputs := []struct {
		path  string
		write func(uint32, string) api.Status
	}{
		{*dump, tk.EvaluatorDumpResults},
		{*report, tk.EvaluatorWriteReport},
		{*plot, tk.EvaluatorPlotResults},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		if st := o.write(h, o.path); st != api.OK {
			return fmt.Errorf("%s: %w", o.path, st.Err())
		}
		fmt.Fprintf(out, "wrote %s\n", o.path)
	}
	return nil
}

// paramList collects a repeated string flag.
type paramList []string

func (p *paramList) String() string { return fmt.Sprint([]string(*p)) }

func (p *paramList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

// cutPair splits "image:annotation" at the last colon.
func cutPair(s string) (string, string, bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
