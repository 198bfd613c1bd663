// malsift scans decompiled source text for malware indicators and extracts
// bounded evidence slices. Subcommands cover one-shot scanning, an HTTP
// service, and the full triage pipeline from binary to analyst report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/malsift/malsift/pkg/allowlist"
	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/report"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/unit"
)

// Version is the malsift release version.
const Version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "pipeline":
		runPipeline(os.Args[2:])
	case "version":
		fmt.Printf("malsift v%s\n", Version)
		fmt.Println("Decompilation heuristic scanner")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("malsift v%s - decompilation heuristic scanner\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  malsift scan [flags] <dir|file.json>   Scan decompiled sources, write results")
	fmt.Println("  malsift serve [port]                   Start HTTP scanning service (default: 3000)")
	fmt.Println("  malsift pipeline [flags]               Binary -> decompile -> scan -> report")
	fmt.Println("  malsift version                        Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  malsift scan -out results.json -evidence ./evidence ./decomp/")
	fmt.Println("  malsift scan -split ghidra_export.json")
	fmt.Println("  malsift pipeline -bin sample.exe -corpus ./corpus -out ./triage")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  MALSIFT_*                  Scan tuning (window, caps, thresholds)")
	fmt.Println("  MALSIFT_REDIS_ADDR         Redis scan cache (serve mode)")
	fmt.Println("  MALSIFT_POSTGRES_DSN       Result persistence (pipeline mode)")
	fmt.Println("  MALSIFT_EMBED_MODEL_PATH   Local ONNX embedding model directory")
	fmt.Println("  MALSIFT_LLM_API_KEY        API key for LLM report generation")
	fmt.Println("  MALSIFT_DECOMPILER         Headless decompiler script")
}

// loadConfig builds the effective configuration: env-derived defaults plus an
// optional YAML file.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadUnits reads units from a JSON export or a directory tree, optionally
// splitting multi-function dumps on decompiler function markers.
func loadUnits(input string, split bool) ([]unit.Unit, []string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, nil, fmt.Errorf("input %s: %w", input, err)
	}

	var units []unit.Unit
	var errs []string
	if info.IsDir() {
		units, errs = unit.LoadDir(input)
	} else if strings.HasSuffix(input, ".json") {
		units, errs = unit.LoadJSON(input)
	} else {
		raw, err := os.ReadFile(input)
		if err != nil {
			return nil, nil, fmt.Errorf("input %s: %w", input, err)
		}
		units = []unit.Unit{{
			ID:   unit.DeriveID(input),
			Name: input,
			Text: unit.DecodeText(raw),
		}}
	}

	if split {
		var out []unit.Unit
		for _, u := range units {
			out = append(out, unit.SplitGhidra(u.Name, u.Text)...)
		}
		units = out
	}
	return units, errs, nil
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	outPath := fs.String("out", "results.json", "result document path")
	evidenceDir := fs.String("evidence", "", "emit C evidence files into this directory")
	evidenceStyle := fs.String("evidence-style", "combined", "evidence layout: combined or per-slice")
	split := fs.Bool("split", false, "split units on decompiler function markers")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: malsift scan [flags] <dir|file.json>")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	units, loadErrs, err := loadUnits(fs.Arg(0), *split)
	if err != nil {
		log.Fatalf("load: %v", err)
	}

	allow := allowlist.New(os.Getenv("MALSIFT_ALLOWLIST_FILE"), cfg.AllowlistOverrides)
	scanner, err := scan.NewScanner(cfg, allow)
	if err != nil {
		log.Fatalf("scanner: %v", err)
	}

	res := scanner.ScanBatch(context.Background(), units)
	if len(loadErrs) > 0 {
		res.Summary.Errors = append(loadErrs, res.Summary.Errors...)
	}

	batch := report.NewBatch(res)
	if err := report.WriteJSON(*outPath, batch); err != nil {
		log.Fatalf("write results: %v", err)
	}
	fmt.Printf("scanned %d units, %d slices, %d errors -> %s\n",
		res.Summary.UnitCount, res.Summary.TotalSliceCount, len(res.Summary.Errors), *outPath)

	if *evidenceDir != "" {
		style := report.StyleCombined
		if *evidenceStyle == "per-slice" {
			style = report.StylePerSlice
		}
		paths, err := report.EmitEvidence(res, *evidenceDir, style, "slices")
		if err != nil {
			log.Fatalf("emit evidence: %v", err)
		}
		fmt.Printf("wrote %d evidence file(s) under %s\n", len(paths), *evidenceDir)
	}
}
