// Offline audit tool for PaySim ledgers.
//
// Usage:
//
//	sentinel-audit -csv /path/to/paysim.csv [-from 1 -to 10] [-report audit.txt]
//	sentinel-audit -csv /path/to/paysim.csv -live -step 1 -pace 1s
//	sentinel-audit -config sentinel.toml -import
//
// This tool:
//  1. Loads the ledger from CSV (or the configured database)
//  2. Scores every transaction with the built-in and stored rules
//  3. Prints the Benford check, the liquidation check and the confusion
//     matrices of both alerting policies
//  4. Optionally replays one tick as a paced live feed, writes the audit
//     report, or imports the CSV into the database
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinel/internal/config"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/ledger"
	"github.com/opensource-finance/sentinel/internal/processor"
	"github.com/opensource-finance/sentinel/internal/report"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
	"github.com/opensource-finance/sentinel/internal/session"
	"github.com/opensource-finance/sentinel/internal/stream"
	"github.com/opensource-finance/sentinel/internal/worker"
)

const cliSession = "sentinel-audit"

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "Path to TOML config file")
	csvPath := flag.String("csv", "", "Path to PaySim CSV file (overrides the configured ledger)")
	from := flag.Int("from", 0, "First step of the audit range (0 = first ledger step)")
	to := flag.Int("to", 0, "Last step of the audit range (0 = last ledger step)")
	live := flag.Bool("live", false, "Replay one tick as a paced live feed")
	step := flag.Int("step", 1, "Tick to replay with -live")
	pace := flag.Duration("pace", time.Second, "Delay between live batches")
	reportPath := flag.String("report", "", "Write the audit report to this file")
	format := flag.String("format", "text", "Report format: text or json")
	withBenford := flag.Bool("benford", true, "Include the Benford check in the report")
	importLedger := flag.Bool("import", false, "Write the loaded ledger to the configured database and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *csvPath != "" {
		cfg.Ledger = domain.LedgerConfig{Source: "csv", Path: *csvPath}
	}

	// Only warnings and errors interleave with the printout.
	slog.SetDefault(config.NewLogger(domain.LoggingConfig{Level: "warn", Format: "text"}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          SENTINEL AUDIT - PaySim Ledger Forensics             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nLedger:      %s %s\n", cfg.Ledger.Source, cfg.Ledger.Path)
	fmt.Printf("Database:    %s\n", orNone(cfg.Repository.Driver))
	fmt.Printf("Threshold:   %.0f\n", cfg.Scoring.HighAmountThreshold)
	fmt.Println()

	var repo *repository.SQLRepository
	if cfg.Repository.Driver != "" {
		repo, err = repository.New(ctx, cfg.Repository)
		if err != nil {
			fmt.Printf("ERROR: Failed to open database: %v\n", err)
			os.Exit(1)
		}
		defer repo.Close()
	}

	var lister ledger.Lister
	if repo != nil {
		lister = repo
	}
	store, err := ledger.Open(ctx, cfg.Ledger, lister)
	if err != nil {
		fmt.Printf("ERROR: Failed to load ledger: %v\n", err)
		os.Exit(1)
	}
	printDataset(store)

	if *importLedger {
		if err := runImport(ctx, repo, store); err != nil {
			fmt.Printf("ERROR: Import failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	engine, err := rules.NewEngine()
	if err != nil {
		fmt.Printf("ERROR: Failed to create rule engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()
	if repo != nil && cfg.Scoring.LoadCustomRules {
		stored, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			fmt.Printf("ERROR: Failed to list rules: %v\n", err)
			os.Exit(1)
		}
		if err := engine.LoadRules(stored); err != nil {
			fmt.Printf("ERROR: Failed to load rules: %v\n", err)
			os.Exit(1)
		}
	}
	scorer := engine.Scorer(rules.Config{HighAmountThreshold: cfg.Scoring.HighAmountThreshold})
	fmt.Printf("✓ Scorer ready (%d rules, version %s)\n", scorer.RulesCount(), scorer.Version())

	sessions := session.NewManager(session.Options{
		Ledger: store,
		Simulator: stream.New(store, stream.Options{
			MinBatch: cfg.Stream.MinBatch,
			MaxBatch: cfg.Stream.MaxBatch,
			Seed:     cfg.Stream.Seed,
		}),
		Processor: processor.New(scorer, cfg.Scoring.Workers),
	})
	defer sessions.Close()

	if *live {
		if err := runLive(ctx, sessions, *step, *pace); err != nil {
			fmt.Printf("ERROR: Live replay failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	r, ok := store.Bounds()
	if !ok {
		fmt.Println("ERROR: Ledger is empty")
		os.Exit(1)
	}
	if *from > 0 {
		r.From = *from
	}
	if *to > 0 {
		r.To = *to
	}

	fmt.Printf("\nAuditing steps %d-%d...\n", r.From, r.To)
	result, err := sessions.Audit(ctx, cliSession, r)
	if err != nil {
		fmt.Printf("ERROR: Audit failed: %v\n", err)
		os.Exit(1)
	}
	printResults(result)

	if *reportPath != "" {
		if err := writeReport(sessions, *reportPath, *format, *withBenford); err != nil {
			fmt.Printf("ERROR: Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n✓ Report written to %s\n", *reportPath)
	}
}

func runImport(ctx context.Context, repo *repository.SQLRepository, store *ledger.Store) error {
	if repo == nil {
		return fmt.Errorf("no database configured: set repository.driver")
	}
	fmt.Printf("\nImporting %d transactions...\n", store.Len())
	start := time.Now()
	if err := repo.SaveLedger(ctx, store.All()); err != nil {
		return err
	}
	count, err := repo.CountLedger(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Ledger table holds %d rows (%s)\n", count, time.Since(start).Round(time.Millisecond))
	return nil
}

func runLive(ctx context.Context, sessions *session.Manager, step int, pace time.Duration) error {
	fmt.Printf("\nReplaying step %d, one batch every %s\n\n", step, pace)
	fmt.Printf("   %-5s %-6s %-16s %-6s %-9s %s\n", "BATCH", "ROWS", "VOLUME", "HIGH", "INTEGRITY", "NEW INCIDENTS")

	run, err := sessions.Replay(ctx, cliSession, step, pace, func(r worker.BatchResult) {
		fmt.Printf("   %-5d %-6d %-16.2f %-6d %-9d %d\n",
			r.Batch.Seq+1,
			r.Summary.Count,
			r.Summary.Volume,
			r.Summary.HighRisk,
			r.Summary.IntegrityErrors,
			len(r.NewIncidents),
		)
		for _, row := range r.NewIncidents {
			fmt.Printf("         ! %s %s %.2f -> %s (score %d)\n",
				row.Type, row.NameOrig, row.Amount, row.NameDest, row.Risk.Score)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ %d transactions in %d batches, %d incidents logged\n",
		run.Total, len(run.Batches), run.IncidentCount)
	return nil
}

func writeReport(sessions *session.Manager, path, format string, withBenford bool) error {
	renderer, ok := report.ForFormat(format)
	if !ok {
		return fmt.Errorf("unsupported format: %s", format)
	}
	doc, err := sessions.Report(cliSession, withBenford)
	if err != nil {
		return err
	}
	out, err := report.Render(renderer, doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func printDataset(store *ledger.Store) {
	total := store.Len()
	fraud := 0
	for _, tx := range store.All() {
		if tx.IsFraud {
			fraud++
		}
	}
	fmt.Printf("✓ Loaded %d transactions\n", total)
	if total == 0 {
		return
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraud, 100*float64(fraud)/float64(total))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", total-fraud, 100*float64(total-fraud)/float64(total))
}

func printResults(a domain.AuditResult) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        AUDIT RESULTS                          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET\n")
	fmt.Printf("   Steps:            %d-%d\n", a.StepRange.From, a.StepRange.To)
	fmt.Printf("   Transactions:     %d\n", a.Transactions)
	fmt.Printf("   Audit Time:       %dms\n", a.DurationMs)

	b := a.Benford
	fmt.Printf("\n🔢 BENFORD FIRST-DIGIT CHECK (%d samples)\n", b.Samples)
	fmt.Printf("   %-6s %-10s %-10s %s\n", "DIGIT", "OBSERVED", "EXPECTED", "DEVIATION")
	for _, row := range b.Rows {
		fmt.Printf("   %-6d %-10.4f %-10.4f %.4f\n", row.Digit, row.Observed, row.Expected, row.Deviation)
	}
	fmt.Printf("   Mean Deviation:   %.4f\n", b.MeanDeviation)
	fmt.Printf("   [%s] %s\n", b.Severity, b.Message)

	l := a.Liquidation
	fmt.Printf("\n💸 FULL-LIQUIDATION RULE\n")
	fmt.Printf("   Matches:          %d\n", l.Matches)
	fmt.Printf("   Confirmed Fraud:  %d\n", l.TruePositives)
	fmt.Printf("   False Alarms:     %d\n", l.FalsePositives)
	fmt.Printf("   Fraud Coverage:   %.2f%% of %d\n", l.CoveragePct, l.TotalFraud)

	printPolicy("STANDARD (MEDIUM or HIGH)", a.Performance.Standard, a.Performance.TotalCount)
	printPolicy("HIGH CONFIDENCE (HIGH, score >= 55)", a.Performance.HighConfidence, a.Performance.TotalCount)

	c := a.Comparison
	fmt.Printf("\n⚖️  POLICY COMPARISON\n")
	fmt.Printf("   Alerts:           %d -> %d\n", c.AlertsStandard, c.AlertsHighConfidence)
	fmt.Printf("   Alerts Saved:     %d (%.2f%%)\n", c.AlertsSaved, c.ReductionPct)
	fmt.Printf("   Recall Loss:      %.2f%%\n", c.RecallLoss*100)
	fmt.Printf("   Missed Fraud:     %d\n", c.MissedFraud)
	fmt.Println()
}

func printPolicy(name string, m domain.PolicyMetrics, total int) {
	tn := total - m.TruePositives - m.FalsePositives - m.FalseNegatives

	fmt.Printf("\n📈 CONFUSION MATRIX - %s\n", name)
	fmt.Println("                     Predicted")
	fmt.Println("                  ALERT    CLEAR")
	fmt.Printf("   Actual FRAUD   %6d   %6d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Actual CLEAN   %6d   %6d\n", m.FalsePositives, tn)

	f1 := 0.0
	if m.Precision+m.Recall > 0 {
		f1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(m.TruePositives+tn) / float64(total)
	}

	fmt.Printf("   Precision:        %.2f%%\n", m.Precision*100)
	fmt.Printf("   Recall:           %.2f%%\n", m.Recall*100)
	fmt.Printf("   F1 Score:         %.2f%%\n", f1*100)
	fmt.Printf("   Accuracy:         %.2f%%\n", accuracy*100)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
