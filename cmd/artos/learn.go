package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/artos/api"
)

// boxFlags collects repeated left,top,width,height boxes.
type boxFlags []api.FlatBoundingBox

func (b *boxFlags) String() string { return fmt.Sprint(len(*b)) }

func (b *boxFlags) Set(v string) error {
	box, err := parseBox(v)
	if err != nil {
		return err
	}
	*b = append(*b, box)
	return nil
}

func parseBox(v string) (api.FlatBoundingBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return api.FlatBoundingBox{}, fmt.Errorf("expected left,top,width,height, got %q", v)
	}
	var n [4]int32
	for i, p := range parts {
		x, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return api.FlatBoundingBox{}, fmt.Errorf("invalid box %q: %w", v, err)
		}
		n[i] = int32(x)
	}
	if n[2] <= 0 || n[3] <= 0 {
		return api.FlatBoundingBox{}, fmt.Errorf("box %q has no area", v)
	}
	return api.FlatBoundingBox{Left: n[0], Top: n[1], Width: n[2], Height: n[3]}, nil
}

func parseThresholdMode(s string) (api.ThresholdMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return api.ThresholdNone, nil
	case "overlapping":
		return api.ThresholdOverlapping, nil
	case "loocv":
		return api.ThresholdLOOCV, nil
	}
	return 0, fmt.Errorf("unknown threshold mode %q (want none, overlapping or loocv)", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func runLearnBackground(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("learn-bg", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	repo := fs.String("repo", "", "Image repository directory (default repository.root)")
	bgFile := fs.String("out", "bg.gob.gz", "Background statistics file to write")
	images := fs.Int("images", 0, "Number of images (default background.num_images)")
	offset := fs.Int("offset", 0, "Maximum cell offset (default background.max_offset)")
	accurate := fs.Bool("accurate", false, "Use the exact autocorrelation estimator")
	extractor := fs.String("extractor", "", "Feature extractor type")
	var params paramFlags
	fs.Var(&params, "param", "Extractor parameter name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	if err := configureExtractor(tk, *extractor, params); err != nil {
		return err
	}
	cfg := tk.Config()
	root := firstNonEmpty(*repo, cfg.GetRepositoryRoot())
	if root == "" {
		return errors.New("--repo is required")
	}

	p := progressPrinter{out: out, label: "background"}
	st := tk.LearnBackground(ctx, root, *bgFile,
		orDefault(*images, cfg.GetBackgroundNumImages()),
		orDefault(*offset, cfg.GetBackgroundMaxOffset()),
		p.overall, *accurate || cfg.GetBackgroundAccurate())
	if st != api.OK {
		return st.Err()
	}
	fmt.Fprintf(out, "wrote %s\n", *bgFile)
	return nil
}

// runLearn learns from the annotated images of a synset when --synset is
// given and from the image files named as arguments otherwise.
func runLearn(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("learn", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	bgFile := fs.String("bg", "", "Background statistics file (required)")
	modelFile := fs.String("out", "", "Model file to write (required)")
	repo := fs.String("repo", "", "Image repository directory (default repository.root)")
	synset := fs.String("synset", "", "Learn from the annotated images of this synset")
	aspect := fs.Int("aspect", 0, "Maximum aspect clusters (default learner.max_aspect_clusters)")
	who := fs.Int("who", 0, "Maximum appearance clusters (default learner.max_who_clusters)")
	th := fs.String("th", "none", "Threshold calibration: none, overlapping or loocv")
	thPos := fs.Int("th-pos", -1, "Positives for threshold calibration, 0 for all (default learner.th_opt_num_positive)")
	thNeg := fs.Int("th-neg", -1, "Negatives for threshold calibration (default learner.th_opt_num_negative)")
	appendModels := fs.Bool("append", false, "Add to the models already in the output file")
	extractor := fs.String("extractor", "", "Feature extractor type")
	var params paramFlags
	fs.Var(&params, "param", "Extractor parameter name=value (repeatable)")
	var boxes boxFlags
	fs.Var(&boxes, "box", "Object box left,top,width,height for the next image file (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bgFile == "" || *modelFile == "" {
		return errors.New("--bg and --out are required")
	}
	mode, err := parseThresholdMode(*th)
	if err != nil {
		return err
	}

	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	if err := configureExtractor(tk, *extractor, params); err != nil {
		return err
	}
	cfg := tk.Config()
	printer := progressPrinter{out: out, label: "learn"}
	p := api.LearnParams{
		BackgroundFile:    *bgFile,
		ModelFile:         *modelFile,
		Append:            *appendModels,
		MaxAspectClusters: orDefault(*aspect, cfg.GetMaxAspectClusters()),
		MaxWhoClusters:    orDefault(*who, cfg.GetMaxWhoClusters()),
		ThresholdMode:     mode,
		ThNumPositive:     cfg.GetThOptNumPositive(),
		ThNumNegative:     cfg.GetThOptNumNegative(),
		Progress:          printer.overall,
		Debug:             c.debug,
	}
	if *thPos >= 0 {
		p.ThNumPositive = *thPos
	}
	if *thNeg >= 0 {
		p.ThNumNegative = *thNeg
	}

	var st api.Status
	if *synset != "" {
		root := firstNonEmpty(*repo, cfg.GetRepositoryRoot())
		if root == "" {
			return errors.New("--repo is required with --synset")
		}
		st = tk.LearnImageNet(ctx, root, *synset, p)
	} else {
		if fs.NArg() == 0 {
			return errors.New("expected --synset or image files")
		}
		st = tk.LearnFiles(ctx, fs.Args(), boxes, p)
	}
	if st != api.OK {
		return st.Err()
	}
	fmt.Fprintf(out, "wrote %s\n", *modelFile)
	return nil
}
