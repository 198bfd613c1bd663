package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/malsift/malsift/pkg/allowlist"
	"github.com/malsift/malsift/pkg/decompile"
	"github.com/malsift/malsift/pkg/llmreport"
	"github.com/malsift/malsift/pkg/report"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/simsearch"
	"github.com/malsift/malsift/pkg/store"
)

// runPipeline drives the full triage flow: decompile (optional), scan, emit
// results and evidence, then the optional enrichment stages. Enrichment
// failures degrade to warnings; the scan output always lands on disk first.
func runPipeline(args []string) {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	binPath := fs.String("bin", "", "binary to decompile before scanning")
	input := fs.String("in", "", "decompiled sources (dir or JSON export) when -bin is not used")
	outDir := fs.String("out", "triage", "output directory")
	configPath := fs.String("config", "", "YAML config file")
	split := fs.Bool("split", false, "split units on decompiler function markers")
	corpusDir := fs.String("corpus", "", "reference corpus for similarity search (<dir>/malware, <dir>/benign)")
	ollamaURL := fs.String("ollama", "", "Ollama base URL for embedding fallback")
	topK := fs.Int("topk", 3, "similarity neighbors per unit")
	benignThresh := fs.Float64("benign-thresh", 0.85, "similarity above which a benign top match is flagged")
	llmProvider := fs.String("llm-provider", "", "LLM provider for the triage report (openrouter, ollama, groq)")
	llmModel := fs.String("llm-model", "", "LLM model override")
	_ = fs.Parse(args)

	if *binPath == "" && *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: malsift pipeline (-bin <sample> | -in <dir|file.json>) [flags]")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("output dir: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Stage 1: decompile when starting from a binary.
	scanInput := *input
	if *binPath != "" {
		d, err := decompile.New(decompile.Config{})
		if err != nil {
			log.Fatalf("decompiler: %v", err)
		}
		decompDir := filepath.Join(*outDir, "decomp")
		if _, err := d.Run(ctx, *binPath, decompDir); err != nil {
			log.Fatalf("decompile: %v", err)
		}
		fmt.Fprintf(os.Stderr, "[INFO] Decompiled %s -> %s\n", *binPath, decompDir)
		scanInput = decompDir
	}

	// Stage 2: load and scan.
	units, loadErrs, err := loadUnits(scanInput, *split)
	if err != nil {
		log.Fatalf("load: %v", err)
	}
	allow := allowlist.New(os.Getenv("MALSIFT_ALLOWLIST_FILE"), cfg.AllowlistOverrides)
	scanner, err := scan.NewScanner(cfg, allow)
	if err != nil {
		log.Fatalf("scanner: %v", err)
	}
	res := scanner.ScanBatch(ctx, units)
	if len(loadErrs) > 0 {
		res.Summary.Errors = append(loadErrs, res.Summary.Errors...)
	}

	batch := report.NewBatch(res)
	resultsPath := filepath.Join(*outDir, "results.json")
	if err := report.WriteJSON(resultsPath, batch); err != nil {
		log.Fatalf("write results: %v", err)
	}
	if _, err := report.EmitEvidence(res, filepath.Join(*outDir, "evidence"), report.StyleCombined, "slices"); err != nil {
		log.Fatalf("emit evidence: %v", err)
	}
	fmt.Fprintf(os.Stderr, "[INFO] Scanned %d units, %d slices -> %s\n",
		res.Summary.UnitCount, res.Summary.TotalSliceCount, resultsPath)

	// Stage 3: persist to Postgres when a DSN is configured.
	if os.Getenv("MALSIFT_POSTGRES_DSN") != "" {
		if st, err := store.New(ctx, ""); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Result store unavailable: %v\n", err)
		} else {
			defer st.Close()
			if err := st.EnsureSchema(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Result store schema: %v\n", err)
			} else if err := st.SaveBatch(ctx, batch); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Result store save: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "[INFO] Batch %s persisted\n", batch.BatchID)
			}
		}
	}

	// Stage 4: similarity against the reference corpus.
	var simReport *simsearch.Report
	if *corpusDir != "" {
		simReport = runSimilarity(ctx, res, *corpusDir, *ollamaURL, *topK, float32(*benignThresh), *outDir, cfg.Workers)
	}

	// Stage 5: LLM triage report.
	reporter, err := llmreport.NewReporter(llmreport.Config{
		Provider: llmreport.Provider(*llmProvider),
		Model:    *llmModel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[INFO] LLM report skipped: %v\n", err)
		return
	}
	md, err := reporter.Generate(ctx, res, simReport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] LLM report failed: %v\n", err)
		return
	}
	reportPath := filepath.Join(*outDir, "report.md")
	if err := os.WriteFile(reportPath, []byte(md), 0o644); err != nil {
		log.Fatalf("write report: %v", err)
	}
	fmt.Fprintf(os.Stderr, "[INFO] Triage report -> %s\n", reportPath)
}

func runSimilarity(ctx context.Context, res *scan.BatchResult, corpusDir, ollamaURL string, topK int, benignThresh float32, outDir string, workers int) *simsearch.Report {
	embedder := simsearch.NewAutoDetectedEmbedder(ollamaURL)
	if embedder == nil {
		return nil
	}

	docs, errs := simsearch.LoadCorpusDir(corpusDir)
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "[WARN] Corpus load: %s\n", e)
	}
	if len(docs) == 0 {
		fmt.Fprintf(os.Stderr, "[WARN] Similarity skipped: corpus %s is empty\n", corpusDir)
		return nil
	}

	ix, err := simsearch.NewIndex(embedder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Similarity skipped: %v\n", err)
		return nil
	}
	if err := ix.Add(ctx, docs, workers); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Corpus indexing failed: %v\n", err)
		return nil
	}

	simReport, err := ix.ReportForBatch(ctx, res, topK, benignThresh)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Similarity query failed: %v\n", err)
		return nil
	}

	simPath := filepath.Join(outDir, "similarity.txt")
	if err := os.WriteFile(simPath, []byte(simReport.Render()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Similarity report write: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "[INFO] Similarity report -> %s\n", simPath)
	}
	return simReport
}
