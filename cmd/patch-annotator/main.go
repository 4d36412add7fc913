package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	patchannotator "github.com/menta2k/patch-annotator"
	"github.com/menta2k/patch-annotator/internal/config"
	"github.com/menta2k/patch-annotator/internal/logger"
	"github.com/menta2k/patch-annotator/internal/utils"
	"github.com/menta2k/patch-annotator/pkg/processing"
	"github.com/menta2k/patch-annotator/pkg/session"
	"github.com/menta2k/patch-annotator/pkg/types"
)

const help = `commands:
  s [c1 c2 c3 c4] [?i,j]  submit: structure present, optional class scores and ambiguous classes
  k [c1 c2 c3 c4] [?i,j]  skip: no structure
  a [c1 c2 c3 c4] [?i,j]  mark the crop as ambiguous
  b                       go back to the previous crop
  p / r                   pause / resume the clock
  q                       save and quit`

func main() {
	var cfgPath, src, out, exportFmt, preview string
	var resume, appendLog, export, verbose bool

	flag.StringVar(&cfgPath, "config", "", "config file (yaml or json, default ~/.config/patch-annotator/config.yaml if present)")
	flag.StringVar(&src, "src", "", "directory with the source images")
	flag.StringVar(&out, "out", "", "output directory for the patch list")
	flag.BoolVar(&resume, "resume", false, "resume from the checkpoint if present")
	flag.BoolVar(&appendLog, "append", false, "append to an existing patch list instead of renaming it")
	flag.BoolVar(&export, "export", false, "also save every labelled crop as an image")
	flag.StringVar(&exportFmt, "exportfmt", "", "format of exported crops: png|jpg|webp")
	flag.StringVar(&preview, "preview", "", "where to write the crop on display (default <out>/current.png)")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	if cfgPath == "" && utils.FileExists(config.GetConfigPath()) {
		cfgPath = config.GetConfigPath()
	}
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if src != "" {
		cfg.Paths.SourceDir = src
	}
	if out != "" {
		cfg.Paths.OutputDir = out
	}
	if export {
		cfg.Export.Enabled = true
	}
	if exportFmt != "" {
		cfg.Export.Format = exportFmt
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = zerolog.DebugLevel
	}
	log := logger.NewConsole(level)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !resume && (cfg.Paths.SourceDir == "" || cfg.Paths.OutputDir == "") {
		fmt.Fprintf(os.Stderr, "usage: %s -src images/ -out labels/ [-resume] [-append] [-export] [-config file]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	a, err := patchannotator.Start(cfg, patchannotator.StartOptions{Resume: resume, AppendLog: appendLog}, patchannotator.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	if preview == "" {
		preview = filepath.Join(a.OutputDir(), "current.png")
	}

	proc := processing.NewProcessor()
	show := func() {
		if a.Done() {
			fmt.Println("Labelled all of the data in the directory!")
			return
		}
		if err := proc.SaveImage(a.Framed(), preview, "png", 100, false); err != nil {
			log.Error().Err(err).Msg("failed to write preview")
		}
		_, desc, _ := a.Current()
		scores, amb := a.Prefill()
		fmt.Printf("%s x=%d y=%d  scores=%v ambiguous=%v  (preview: %s)\n", filepath.Base(desc.Image), desc.X, desc.Y, scores, amb, preview)
	}

	fmt.Println(help)
	show()

	scanner := bufio.NewScanner(os.Stdin)
	for !a.Done() {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "s", "k", "a":
			scores, amb := a.Prefill()
			scores, amb, err = parseLabel(fields[1:], scores, amb)
			if err != nil {
				fmt.Println(err)
				continue
			}
			switch fields[0] {
			case "s":
				err = a.Submit(scores, amb)
			case "k":
				err = a.Skip(scores, amb)
			default:
				err = a.MarkAmbiguous(scores, amb)
			}
			if errors.Is(err, session.ErrLogWrite) {
				log.Fatal().Err(err).Msg("cannot write the patch list")
			}
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load the next crop")
			}
			show()
		case "b":
			if err := a.GoBack(); err != nil {
				if errors.Is(err, patchannotator.ErrNoPrevious) {
					fmt.Println("Cannot go backward!")
					continue
				}
				log.Fatal().Err(err).Msg("failed to go back")
			}
			show()
		case "p":
			a.Pause()
			fmt.Println("paused")
		case "r":
			a.Resume()
			fmt.Println("resumed")
		case "q":
			if err := a.Close(); err != nil {
				log.Fatal().Err(err).Msg("failed to save session")
			}
			return
		default:
			fmt.Println(help)
		}
	}

	if err := a.Close(); err != nil {
		log.Fatal().Err(err).Msg("failed to save session")
	}
}

// parseLabel reads optional class scores and a ?i,j list of ambiguous classes
func parseLabel(args []string, scores types.Scores, amb types.Ambiguous) (types.Scores, types.Ambiguous, error) {
	n := 0
	for _, arg := range args {
		if strings.HasPrefix(arg, "?") {
			for _, item := range strings.Split(arg[1:], ",") {
				i, err := strconv.Atoi(item)
				if err != nil || i < 1 || i > types.NumClasses {
					return scores, amb, fmt.Errorf("invalid ambiguous class %q", item)
				}
				amb[i-1] = true
			}
			continue
		}
		if n >= types.NumClasses {
			return scores, amb, fmt.Errorf("at most %d class scores", types.NumClasses)
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 || v > 1 {
			return scores, amb, fmt.Errorf("invalid class score %q", arg)
		}
		scores[n] = v
		n++
	}
	return scores, amb, nil
}
