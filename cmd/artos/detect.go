package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/artos/api"
	"github.com/banshee-data/artos/internal/httpapi"
)

// modelFlags select the models of a detector: a single model file or a
// model list.
type modelFlags struct {
	model     string
	class     string
	threshold float64
	synset    string
	list      string
}

func (m *modelFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.model, "model", "", "Model file")
	fs.StringVar(&m.class, "class", "", "Class name of --model (default the file name)")
	fs.Float64Var(&m.threshold, "threshold", 0, "Detection threshold of --model")
	fs.StringVar(&m.synset, "synset-id", "", "Synset id reported with detections of --model")
	fs.StringVar(&m.list, "models", "", "Model list file (class file threshold [synset] per line)")
}

// detector creates a detector session holding the selected models.
func (m *modelFlags) detector(tk *api.Toolkit, debug bool) (uint32, error) {
	if m.model == "" && m.list == "" {
		return 0, errors.New("--model or --models is required")
	}
	cfg := tk.Config()
	h := tk.CreateDetector(cfg.GetNMSOverlap(), cfg.GetInterval(), debug)
	if h == 0 {
		return 0, errors.New("failed to create detector")
	}
	if m.model != "" {
		class := firstNonEmpty(m.class, modelName(m.model))
		if st := tk.AddModel(h, class, m.model, m.threshold, m.synset); st != api.OK {
			tk.DestroyDetector(h)
			return 0, fmt.Errorf("model %s: %w", m.model, st.Err())
		}
	}
	if m.list != "" {
		if st := tk.AddModels(h, m.list); st != api.OK {
			tk.DestroyDetector(h)
			return 0, fmt.Errorf("model list %s: %w", m.list, st.Err())
		}
	}
	return h, nil
}

func runDetect(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	var m modelFlags
	m.register(fs)
	server := fs.String("server", "", "Detect through a running artos server at this URL")
	limit := fs.Int("max", 0, "Maximum detections per image, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("expected image files")
	}
	if *server != "" {
		return detectRemote(ctx, httpapi.NewClient(*server, nil), fs.Args(), *limit, out)
	}

	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()
	h, err := m.detector(tk, c.debug)
	if err != nil {
		return err
	}
	for _, path := range fs.Args() {
		n := *limit
		if n == 0 {
			total, st := tk.DetectFile(h, path, nil)
			if st != api.OK {
				return fmt.Errorf("%s: %w", path, st.Err())
			}
			n = total
		}
		if n == 0 {
			continue
		}
		buf := make([]api.FlatDetection, n)
		n, st := tk.DetectFile(h, path, buf)
		if st != api.OK {
			return fmt.Errorf("%s: %w", path, st.Err())
		}
		for _, d := range buf[:n] {
			printDetection(out, path, api.Text(d.ClassName[:]), float64(d.Score),
				int(d.Left), int(d.Top), int(d.Right), int(d.Bottom))
		}
	}
	return nil
}

func detectRemote(ctx context.Context, client *httpapi.Client, paths []string, limit int, out io.Writer) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dets, err := client.Detect(ctx, data, limit)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, d := range dets {
			printDetection(out, path, d.Class, d.Score, d.Left, d.Top, d.Right, d.Bottom)
		}
	}
	return nil
}

// printDetection writes one tab separated line; right and bottom are
// exclusive.
func printDetection(out io.Writer, path, class string, score float64, left, top, right, bottom int) {
	fmt.Fprintf(out, "%s\t%s\t%.4f\t%d\t%d\t%d\t%d\n", path, class, score, left, top, right, bottom)
}

// modelName derives a class name from a model file path.
func modelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
