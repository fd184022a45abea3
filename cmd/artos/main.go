// Command artos learns, runs and evaluates object detectors on ImageNet
// style image repositories.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/banshee-data/artos/api"
	"github.com/banshee-data/artos/internal/config"
	"github.com/banshee-data/artos/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	if err := run(ctx, command, flag.Args()[1:], os.Stdout); err != nil {
		if errors.Is(err, errUnknownCommand) {
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
			printUsage()
		} else {
			fmt.Fprintf(os.Stderr, "artos %s: %v\n", command, err)
		}
		os.Exit(1)
	}
}

var errUnknownCommand = errors.New("unknown command")

// commands maps every subcommand to its handler.
var commands = map[string]func(ctx context.Context, args []string, out io.Writer) error{
	"learn-bg": runLearnBackground,
	"learn":    runLearn,
	"detect":   runDetect,
	"evaluate": runEvaluate,
	"synsets":  runSynsets,
	"extract":  runExtract,
	"serve":    runServe,
}

func run(ctx context.Context, command string, args []string, out io.Writer) error {
	switch command {
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage()
		return nil
	}
	handler, ok := commands[command]
	if !ok {
		return errUnknownCommand
	}
	return handler(ctx, args, out)
}

func printUsage() {
	fmt.Println(`artos - object detector toolkit

Usage: artos <command> [options]

Commands:
  learn-bg   Estimate background statistics from a repository
  learn      Learn a model from a synset or from image files
  detect     Run models on images, locally or through a server
  evaluate   Measure precision and recall of models on a synset
  synsets    List or search the synsets of a repository
  extract    Extract images or annotated objects of a synset
  serve      Serve a detector and the repository over HTTP
  version    Show the artos version
  help       Show this help message

Common Flags:
  --config <file>   Configuration file (default config/artos.defaults.json if present)
  --debug           Enable per-stage timing logs

Examples:
  artos learn-bg --repo /data/imagenet --out bg.gob.gz
  artos learn --bg bg.gob.gz --repo /data/imagenet --synset n02084071 --out dog.json --th overlapping
  artos detect --model dog.json --class dog photo.jpg
  artos evaluate --models models.txt --repo /data/imagenet --synset n02084071 --negatives 1 --report report.html
  artos serve --config artos.json`)
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Configuration file")
	fs.BoolVar(&c.debug, "debug", false, "Enable debug logging")
}

// toolkit loads the configuration and creates the toolkit. Without an
// explicit file the canonical defaults are used when they can be found.
func (c *commonFlags) toolkit() (*api.Toolkit, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	return api.NewToolkit(cfg), nil
}

func (c *commonFlags) config() (*config.Config, error) {
	if c.configPath != "" {
		return config.LoadConfig(c.configPath)
	}
	if cfg, err := config.LoadConfig(config.DefaultConfigPath); err == nil {
		return cfg, nil
	}
	return config.EmptyConfig(), nil
}

// paramFlags collects repeated name=value extractor parameters.
type paramFlags []string

func (p *paramFlags) String() string { return strings.Join(*p, ",") }

func (p *paramFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	*p = append(*p, v)
	return nil
}

// configureExtractor selects the extractor type and applies the parameters,
// each typed after the extractor's own parameter list.
func configureExtractor(tk *api.Toolkit, typ string, params paramFlags) error {
	if typ != "" {
		if st := tk.ChangeFeatureExtractor(typ); st != api.OK {
			return fmt.Errorf("extractor %s: %w", typ, st.Err())
		}
	}
	if len(params) == 0 {
		return nil
	}
	list := make([]api.FeatureExtractorParameter, tk.FeatureExtractorListParams(nil))
	tk.FeatureExtractorListParams(list)
	types := make(map[string]api.ParamType, len(list))
	for _, p := range list {
		types[api.Text(p.Name[:])] = p.Type
	}
	for _, kv := range params {
		name, value, _ := strings.Cut(kv, "=")
		typ, ok := types[name]
		if !ok {
			return fmt.Errorf("parameter %s: %w", name, api.SettingsUnknownParameter.Err())
		}
		var st api.Status
		switch typ {
		case api.ParamInt:
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", name, err)
			}
			st = tk.FeatureExtractorSetIntParam(name, n)
		case api.ParamScalar:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", name, err)
			}
			st = tk.FeatureExtractorSetScalarParam(name, f)
		default:
			st = tk.FeatureExtractorSetStringParam(name, value)
		}
		if st != api.OK {
			return fmt.Errorf("parameter %s: %w", name, st.Err())
		}
	}
	return nil
}

// progressPrinter renders two-level progress on a single terminal line.
type progressPrinter struct {
	out   io.Writer
	label string
}

func (p progressPrinter) overall(step, total, sub, subTotal int) bool {
	if subTotal > 0 {
		fmt.Fprintf(p.out, "\r%s [%d/%d] %d/%d   ", p.label, step, total, sub, subTotal)
	} else {
		fmt.Fprintf(p.out, "\r%s [%d/%d]   ", p.label, step, total)
	}
	if step == total && subTotal == 0 {
		fmt.Fprintln(p.out)
	}
	return true
}

func (p progressPrinter) simple(current, total int) bool {
	fmt.Fprintf(p.out, "\r%s %d/%d   ", p.label, current, total)
	if current == total {
		fmt.Fprintln(p.out)
	}
	return true
}
