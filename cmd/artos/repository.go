package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/artos/api"
)

func runSynsets(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("synsets", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	repo := fs.String("repo", "", "Image repository directory (default repository.root)")
	query := fs.String("q", "", "Search phrase; lists every synset when empty")
	limit := fs.Int("limit", 0, "Maximum number of synsets, 0 for all (search defaults to 20)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	root := firstNonEmpty(*repo, tk.Config().GetRepositoryRoot())
	if root == "" {
		return errors.New("--repo is required")
	}
	if ok, msg := tk.CheckRepositoryDirectory(root); !ok {
		return fmt.Errorf("%s is not an %s repository: %s", root, tk.ImageRepositoryType(), msg)
	}

	var buf []api.SynsetSearchResult
	var n int
	var st api.Status
	if *query != "" {
		buf = make([]api.SynsetSearchResult, orDefault(*limit, 20))
		n, st = tk.SearchSynsets(root, *query, buf)
	} else {
		size := *limit
		if size == 0 {
			if size, st = tk.ListSynsets(root, nil); st != api.OK {
				return st.Err()
			}
		}
		buf = make([]api.SynsetSearchResult, size)
		n, st = tk.ListSynsets(root, buf)
	}
	if st != api.OK {
		return st.Err()
	}
	for _, s := range buf[:n] {
		if *query != "" {
			fmt.Fprintf(out, "%s\t%.3f\t%s\n", api.Text(s.SynsetID[:]), s.Score, api.Text(s.Description[:]))
		} else {
			fmt.Fprintf(out, "%s\t%s\n", api.Text(s.SynsetID[:]), api.Text(s.Description[:]))
		}
	}
	return nil
}

// runExtract writes the images of a synset, its annotated objects with
// --samples, or images mixed across synsets with --mixed.
func runExtract(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	repo := fs.String("repo", "", "Image repository directory (default repository.root)")
	synset := fs.String("synset", "", "Synset to extract from")
	outDir := fs.String("out", "", "Existing output directory (required)")
	limit := fs.Int("max", 0, "Maximum number of files, 0 for all")
	samples := fs.Bool("samples", false, "Extract the annotated objects instead of whole images")
	mixed := fs.Int("mixed", 0, "Extract this many images mixed across all synsets")
	perSynset := fs.Int("per-synset", 1, "Consecutive images per synset with --mixed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" {
		return errors.New("--out is required")
	}
	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	root := firstNonEmpty(*repo, tk.Config().GetRepositoryRoot())
	if root == "" {
		return errors.New("--repo is required")
	}

	if *mixed > 0 {
		if st := tk.ExtractMixedImages(root, *outDir, *mixed, *perSynset); st != api.OK {
			return st.Err()
		}
		fmt.Fprintf(out, "extracted mixed images to %s\n", *outDir)
		return nil
	}
	if *synset == "" {
		return errors.New("--synset or --mixed is required")
	}
	extract, what := tk.ExtractImagesFromSynset, "images"
	if *samples {
		extract, what = tk.ExtractSamplesFromSynset, "samples"
	}
	if *limit == 0 {
		*limit = math.MaxInt32
	}
	n, st := extract(root, *synset, *outDir, *limit)
	if st != api.OK {
		return st.Err()
	}
	fmt.Fprintf(out, "extracted %d %s of %s to %s\n", n, what, *synset, *outDir)
	return nil
}
