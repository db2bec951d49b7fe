package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/hengadev/capsule"
	"github.com/hengadev/capsule/internal/monitoring"
	auditbadger "github.com/hengadev/capsule/providers/audit/badger"
	awskeys "github.com/hengadev/capsule/providers/keys/aws"
	vaultkeys "github.com/hengadev/capsule/providers/keys/hashicorp"
	"github.com/hengadev/capsule/providers/llm"
	s3bucket "github.com/hengadev/capsule/providers/s3"
	awssecrets "github.com/hengadev/capsule/providers/secrets/aws"
	vaultsecrets "github.com/hengadev/capsule/providers/secrets/hashicorp"
)

// serviceFlags are shared by every command that opens the service.
type serviceFlags struct {
	configPath string
	envFile    string

	blobEndpoint  string
	blobPathStyle bool

	kmsKey     string
	transitKey string

	signingSecret string
	signingKV     string

	llmEndpoint string
	llmModel    string

	auditDir string
	stats    bool
}

func (f *serviceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file (default: CAPSULE_* environment)")
	fs.StringVar(&f.envFile, "env", "", "Optional .env file loaded before reading the environment")
	fs.StringVar(&f.blobEndpoint, "blob-endpoint", "", "S3 compatible endpoint for the blob bucket (e.g. MinIO)")
	fs.BoolVar(&f.blobPathStyle, "blob-path-style", false, "Use path-style S3 addressing")
	fs.StringVar(&f.kmsKey, "kms-key", "", "Wrap capsule keys with this AWS KMS key")
	fs.StringVar(&f.transitKey, "transit-key", "", "Wrap capsule keys with this Vault transit key")
	fs.StringVar(&f.signingSecret, "signing-key-secret", "", "Load the authority key from this AWS Secrets Manager secret")
	fs.StringVar(&f.signingKV, "signing-key-kv", "", "Load the authority key from this Vault KV v2 path")
	fs.StringVar(&f.llmEndpoint, "llm-endpoint", os.Getenv("CAPSULE_LLM_ENDPOINT"), "Chat-completions URL used to extract report data")
	fs.StringVar(&f.llmModel, "llm-model", os.Getenv("CAPSULE_LLM_MODEL"), "Model name for extraction")
	fs.StringVar(&f.auditDir, "audit-dir", "", "Write the audit trail to a Badger directory instead of the database")
	fs.BoolVar(&f.stats, "stats", false, "Print operation counters to stderr on exit")
}

func (f *serviceFlags) loadConfig() (capsule.Config, error) {
	if f.configPath != "" {
		return capsule.LoadConfigFromFile(f.configPath)
	}
	if f.envFile != "" {
		return capsule.LoadConfigFromEnvironment(f.envFile)
	}
	return capsule.LoadConfigFromEnvironment()
}

// open builds the service and its configured backends. The returned close
// function releases everything open created.
func (f *serviceFlags) open(ctx context.Context) (*capsule.Service, capsule.Config, func(), error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		}
	}

	opts, err := f.options(ctx, cfg, &closers)
	if err != nil {
		closeAll()
		return nil, cfg, nil, err
	}
	svc, err := capsule.NewService(ctx, cfg, opts...)
	if err != nil {
		closeAll()
		return nil, cfg, nil, err
	}
	closers = append(closers, svc.Close)
	return svc, cfg, closeAll, nil
}

func (f *serviceFlags) options(ctx context.Context, cfg capsule.Config, closers *[]func() error) ([]capsule.Option, error) {
	var opts []capsule.Option

	logger, err := monitoring.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	hooks := []monitoring.ObservabilityHook{monitoring.NewLoggingObservabilityHook(logger)}
	if f.stats {
		collector := monitoring.NewInMemoryMetricsCollector()
		hooks = append(hooks, monitoring.NewMetricsObservabilityHook(collector))
		*closers = append(*closers, func() error {
			return printCounters(collector.Counters())
		})
	}
	opts = append(opts,
		capsule.WithLogger(logger),
		capsule.WithObservabilityHook(monitoring.NewCompositeObservabilityHook(hooks...)),
	)

	if cfg.BlobBucket != "" {
		blobs, err := s3bucket.New(ctx, s3bucket.Config{
			Bucket:       cfg.BlobBucket,
			Endpoint:     f.blobEndpoint,
			UsePathStyle: f.blobPathStyle,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithBlobStore(blobs))
	}

	switch {
	case f.kmsKey != "" && f.transitKey != "":
		return nil, errors.New("-kms-key and -transit-key are mutually exclusive")
	case f.kmsKey != "":
		wrapper, err := awskeys.NewKMSWrapper(ctx, awskeys.Config{KeyID: f.kmsKey})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithKeyWrapper(wrapper))
	case f.transitKey != "":
		wrapper, err := vaultkeys.NewTransitWrapper(ctx, vaultkeys.Config{KeyName: f.transitKey})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithKeyWrapper(wrapper))
	}

	switch {
	case f.signingSecret != "" && f.signingKV != "":
		return nil, errors.New("-signing-key-secret and -signing-key-kv are mutually exclusive")
	case f.signingSecret != "":
		source, err := awssecrets.NewSecretsManagerSource(ctx, awssecrets.Config{SecretID: f.signingSecret})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithSigningKeySource(source))
	case f.signingKV != "":
		source, err := vaultsecrets.NewKVSource(ctx, vaultsecrets.Config{Path: f.signingKV})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithSigningKeySource(source))
	}

	if f.llmEndpoint != "" {
		extractor, err := llm.New(llm.Config{
			Endpoint: f.llmEndpoint,
			APIKey:   os.Getenv("CAPSULE_LLM_API_KEY"),
			Model:    f.llmModel,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capsule.WithExtractor(extractor))
	}

	if f.auditDir != "" {
		sink, err := auditbadger.Open(f.auditDir)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, sink.Close)
		opts = append(opts, capsule.WithAuditSink(sink))
	}
	return opts, nil
}

func printCounters(counters map[string]int64) error {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(os.Stderr, "%s %d\n", name, counters[name]); err != nil {
			return err
		}
	}
	return nil
}
