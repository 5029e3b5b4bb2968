package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/reports"
	"github.com/spigell/fiscal-sentinel/internal/tender"
)

const (
	PromptFlaggedOnly = "Show flagged findings only"
	PromptFullReport  = "Show full report"
	PromptDumpToFile  = "Dump report to file"
	PromptSave        = "Save report to database"
	PromptExit        = "Exit"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Next?",
	Items: []string{PromptFlaggedOnly, PromptFullReport, PromptDumpToFile, PromptSave, PromptExit},
}

// scanOutcome is an analyzer result reduced to what the prompt loop needs.
type scanOutcome struct {
	analyzer string
	status   string
	score    float64
	source   string
	flagged  any
	count    int
	result   any
}

type scanFunc func(ctx context.Context, built *analyzers, cmd *cobra.Command, args []string) (*scanOutcome, error)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one analyzer over local files and print the report",
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.PersistentFlags().BoolP("yes", "y", false, "print the report and exit without asking")
	scanCmd.PersistentFlags().Bool("save", false, "store the report in the database")

	tenderCmd := &cobra.Command{
		Use:   "tender <file> <file> [file...]",
		Short: "Compare tender documents for bid rigging",
		Args:  cobra.MinimumNArgs(2),
		Run:   runScan(scanTender),
	}
	priceCmd := &cobra.Command{
		Use:   "price [invoice-image]",
		Short: "Screen an invoice against market prices",
		Args:  cobra.MaximumNArgs(1),
		Run:   runScan(scanPrice),
	}
	priceCmd.Flags().String("text", "", "invoice text to screen instead of an image")
	priceCmd.Flags().String("text-file", "", "file with invoice text to screen instead of an image")
	priceCmd.Flags().String("export-catalog", "", "write the resolved market catalog (local and remote prices) to this YAML file")

	ghostCmd := &cobra.Command{
		Use:   "ghost <payroll.csv>",
		Short: "Find ghost-employee clusters in a payroll",
		Args:  cobra.ExactArgs(1),
		Run:   runScan(scanGhost),
	}
	welfareCmd := &cobra.Command{
		Use:   "welfare <pension.csv> <deaths.csv>",
		Short: "Find pension payments to deceased beneficiaries",
		Args:  cobra.ExactArgs(2),
		Run:   runScan(scanWelfare),
	}

	scanCmd.AddCommand(tenderCmd, priceCmd, ghostCmd, welfareCmd)
}

func runScan(fn scanFunc) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		logger, err := newLogger()
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}
		defer logger.Sync()

		config, err := getConfig()
		if err != nil {
			logger.Fatal("getting a config", zap.Error(err))
		}

		// do not bother error since there is a valid parseable config
		pretty, _ := json.MarshalIndent(config, "", "  ")
		logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

		built, err := buildAnalyzers(ctx, config, logger)
		if err != nil {
			logger.Fatal("building analyzers", zap.Error(err))
		}

		outcome, err := fn(ctx, built, cmd, args)
		if err != nil {
			logger.Fatal("scan failed", zap.String("command", cmd.Name()), zap.Error(err))
		}

		logger.Info("scan finished",
			zap.String("analyzer", outcome.analyzer),
			zap.String("status", outcome.status),
			zap.Float64("integrity_score", outcome.score),
			zap.Int("flagged", outcome.count),
		)

		if err := printJSON(os.Stdout, outcome.result); err != nil {
			logger.Fatal("printing report", zap.Error(err))
		}

		if flagBool(cmd, "save") {
			if err := saveOutcome(ctx, config, outcome, logger); err != nil {
				logger.Fatal("saving report", zap.Error(err))
			}
		}

		if flagBool(cmd, "yes") {
			return
		}

		for {
			_, action, err := prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
			if err := handleAction(ctx, action, config, outcome, logger); err != nil {
				if errors.Is(err, errExit) {
					return
				}
				logger.Fatal("exiting", zap.Error(err))
			}
		}
	}
}

func handleAction(ctx context.Context, action string, config *Config, outcome *scanOutcome, logger *zap.Logger) error {
	switch action {
	case PromptFlaggedOnly:
		logger.Info("flagged findings", zap.Int("count", outcome.count))
		return printJSON(os.Stdout, outcome.flagged)
	case PromptFullReport:
		return printJSON(os.Stdout, outcome.result)
	case PromptDumpToFile:
		filename, err := dumpToTmpFile(outcome)
		if err != nil {
			return fmt.Errorf("dump report to file: %w", err)
		}
		logger.Info("dumping report to file", zap.String("filename", filename))
		return nil
	case PromptSave:
		return saveOutcome(ctx, config, outcome, logger)
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func scanTender(ctx context.Context, built *analyzers, _ *cobra.Command, args []string) (*scanOutcome, error) {
	docs := make([]tender.Document, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, tender.Document{Name: filepath.Base(path), ContentType: contentType(path, data), Data: data})
	}

	res, err := built.tender.Analyze(ctx, docs)
	if err != nil {
		return nil, err
	}
	return &scanOutcome{
		analyzer: res.Analyzer, status: res.Status, score: res.IntegrityScore, source: "cli",
		flagged: res.FlaggedPairs, count: len(res.FlaggedPairs), result: res,
	}, nil
}

func scanPrice(ctx context.Context, built *analyzers, cmd *cobra.Command, args []string) (*scanOutcome, error) {
	if path, _ := cmd.Flags().GetString("export-catalog"); path != "" {
		if err := exportCatalog(path, built.catalog, built.logger); err != nil {
			return nil, fmt.Errorf("export catalog: %w", err)
		}
	}

	text, _ := cmd.Flags().GetString("text")
	if file, _ := cmd.Flags().GetString("text-file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}

	var err error
	var outcome *scanOutcome
	switch {
	case len(args) == 1:
		data, rerr := os.ReadFile(args[0])
		if rerr != nil {
			return nil, rerr
		}
		res, aerr := built.price.AnalyzeImage(ctx, data, contentType(args[0], data))
		if aerr != nil {
			return nil, aerr
		}
		outcome = &scanOutcome{analyzer: res.Analyzer, status: res.Status, score: res.IntegrityScore, source: res.Source, flagged: res.FlaggedItems, count: len(res.FlaggedItems), result: res}
	case text != "":
		res, aerr := built.price.AnalyzeText(ctx, text)
		if aerr != nil {
			return nil, aerr
		}
		outcome = &scanOutcome{analyzer: res.Analyzer, status: res.Status, score: res.IntegrityScore, source: res.Source, flagged: res.FlaggedItems, count: len(res.FlaggedItems), result: res}
	default:
		err = errors.New("pass an invoice image or --text/--text-file")
	}
	return outcome, err
}

func scanGhost(ctx context.Context, built *analyzers, _ *cobra.Command, args []string) (*scanOutcome, error) {
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := built.ghost.AnalyzeCSV(ctx, f)
	if err != nil {
		return nil, err
	}
	return &scanOutcome{
		analyzer: res.Analyzer, status: res.Status, score: res.IntegrityScore, source: "cli",
		flagged: res.RiskyClusters, count: len(res.RiskyClusters), result: res,
	}, nil
}

func scanWelfare(ctx context.Context, built *analyzers, _ *cobra.Command, args []string) (*scanOutcome, error) {
	pension, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer pension.Close()

	deaths, err := os.Open(args[1])
	if err != nil {
		return nil, err
	}
	defer deaths.Close()

	res, err := built.welfare.AnalyzeCSV(ctx, pension, deaths)
	if err != nil {
		return nil, err
	}
	return &scanOutcome{
		analyzer: res.Analyzer, status: res.Status, score: res.IntegrityScore, source: "cli",
		flagged: res.Matches, count: res.DeceasedMatches, result: res,
	}, nil
}

func saveOutcome(ctx context.Context, config *Config, outcome *scanOutcome, logger *zap.Logger) error {
	if config.Database == "" {
		return errors.New("database is not configured")
	}
	store, err := reports.Open(ctx, config.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.Save(ctx, outcome.analyzer, outcome.status, outcome.score, outcome.source, outcome.result)
	if err != nil {
		return err
	}
	logger.Info("report saved", zap.String("id", report.ID), zap.String("database", config.Database))
	return nil
}

func dumpToTmpFile(outcome *scanOutcome) (string, error) {
	f, err := os.CreateTemp("", app+"-"+outcome.analyzer+"-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := printJSON(f, outcome.result); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// contentType prefers the file extension and falls back to sniffing.
func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	return err == nil && v
}
