package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/csvimport"
	"github.com/langchou/evreceipts/internal/extract"
	"github.com/langchou/evreceipts/internal/repository"
	"github.com/langchou/evreceipts/internal/service"
)

func main() {
	fs := ff.NewFlagSet("evimport")
	var (
		user        = fs.StringLong("user", "", "Email address whose collection receives the records")
		csvFiles    = fs.StringList(0, "csv", "EVCC csv export to import (repeatable)")
		pdfFiles    = fs.StringList(0, "pdf", "PDF receipt to import (repeatable)")
		emlDir      = fs.StringLong("eml", "", "Directory of .eml messages to import")
		driver      = fs.StringLong("store", repository.DriverBolt, "Store driver: 'bolt' or 'postgres'")
		boltPath    = fs.StringLong("bolt-path", "evreceipts.db", "Bolt database file path")
		databaseURL = fs.StringLong("database-url", "", "PostgreSQL connection string")
		costPerKWh  = fs.Float64(0, "evcc-cost", csvimport.DefaultCostPerKWh, "Default rate for EVCC rows without a price")
		verbose     = fs.BoolLong("verbose", "Enable debug logging")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EVIMPORT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(*csvFiles) == 0 && len(*pdfFiles) == 0 && *emlDir == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: nothing to import, pass --csv, --pdf or --eml")
		os.Exit(1)
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      *driver,
		DatabaseURL: *databaseURL,
		BoltPath:    *boltPath,
	})
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	ingest := service.NewIngestService(
		logger,
		service.NewCollections(store, nil, repository.DefaultUserKey),
		extract.NewExtractor(logger),
		csvimport.NewParser(logger, *costPerKWh),
		nil,
		extract.DefaultMinPDFText,
	)

	results, err := run(ctx, ingest, *user, *csvFiles, *pdfFiles, *emlDir, logger)
	if err != nil {
		logger.Error("Import failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(results); encErr != nil {
		logger.Error("Failed to write results", zap.Error(encErr))
	}
	if err != nil {
		os.Exit(1)
	}
}

// run 依次导入 CSV、PDF 和邮件目录
func run(ctx context.Context, ingest *service.IngestService, user string, csvFiles, pdfFiles []string, emlDir string, logger *zap.Logger) (map[string]*service.IngestResult, error) {
	results := make(map[string]*service.IngestResult)

	for _, path := range csvFiles {
		f, err := os.Open(path)
		if err != nil {
			return results, fmt.Errorf("open %s: %w", path, err)
		}
		res, err := ingest.IngestCSV(ctx, user, filepath.Base(path), f)
		f.Close()
		if err != nil {
			return results, fmt.Errorf("import %s: %w", path, err)
		}
		results[path] = res
	}

	if len(pdfFiles) > 0 {
		files := make([]service.PDFFile, 0, len(pdfFiles))
		for _, path := range pdfFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return results, fmt.Errorf("read %s: %w", path, err)
			}
			files = append(files, service.PDFFile{Filename: filepath.Base(path), Data: data})
		}
		res, err := ingest.IngestPDFs(ctx, user, files)
		if err != nil {
			return results, fmt.Errorf("import pdf files: %w", err)
		}
		results["pdf"] = res
	}

	if emlDir != "" {
		docs, err := service.NewDirSource(emlDir, logger).Fetch(ctx)
		if err != nil {
			return results, fmt.Errorf("read %s: %w", emlDir, err)
		}
		res, err := ingest.IngestDocuments(ctx, user, docs)
		if err != nil {
			return results, fmt.Errorf("import mail: %w", err)
		}
		results[emlDir] = res
	}

	return results, nil
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stderr"}
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, _ := config.Build()
	return logger
}
