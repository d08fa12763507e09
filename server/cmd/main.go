package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"coda"
	"coda/pipeline"
	"coda/server"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

// config 进程配置, 对应 yaml 配置文件
type config struct {
	LogLevel string          `yaml:"log_level"`
	Server   server.Config   `yaml:"server"`
	Broker   coda.Options    `yaml:"broker"`
	Pipeline pipeline.Config `yaml:"pipeline"`
}

func defaultConfig() config {
	return config{
		LogLevel: "info",
		Server:   server.DefaultConfig,
		Broker:   coda.DefaultOptions,
		Pipeline: pipeline.DefaultConfig,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coda",
		Short:         "coda partition log broker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newShardsCmd())
	return root
}

type flags struct {
	configPath string
	dir        string
	addr       string
	logLevel   string
}

// 命令行参数覆盖配置文件
func (f *flags) load() (config, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}
	if f.dir != "" {
		cfg.Broker.DirPath = f.dir
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

func (f *flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the yaml config file")
	cmd.Flags().StringVar(&f.dir, "dir", "", "data directory, overrides broker.dir_path")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func newServeCmd() *cobra.Command {
	f := new(flags)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker and accept produce requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func newShardsCmd() *cobra.Command {
	f := new(flags)
	var entries bool
	cmd := &cobra.Command{
		Use:   "shards [queue]",
		Short: "List the shards stored in the data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			var prefix string
			if len(args) > 0 {
				prefix = args[0]
			}
			return listShards(cfg, prefix, entries, cmd.OutOrStdout())
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&entries, "entries", false, "also dump every offset index entry through the logger")
	return cmd
}

// 列出分片, entries 为 true 时把每个分片的索引项打印到日志
func listShards(cfg config, prefix string, entries bool, out io.Writer) error {
	cfg.Broker.AutoCreateShards = false
	if entries {
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()
		cfg.Broker.Logger = logger
	}
	broker, err := coda.Open(cfg.Broker)
	if err != nil {
		return err
	}
	defer broker.Close()

	for _, meta := range broker.Shards(prefix) {
		l, err := broker.Log(meta.Queue, meta.ShardID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%d\tbase=%d\tnext=%d\tsize=%d\n",
			meta.Queue, meta.ShardID, meta.BaseOffset, l.NextOffset(), l.Size())
		if entries {
			l.Index().PrintEntries()
		}
	}
	return nil
}

func serve(ctx context.Context, cfg config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg.Broker.Logger = logger
	broker, err := coda.Open(cfg.Broker)
	if err != nil {
		return err
	}
	defer broker.Close()

	srv := server.New(cfg.Server, logger)
	pcfg := cfg.Pipeline
	pcfg.Network = srv
	pcfg.Resolver = broker
	pcfg.Logger = logger
	p, err := pipeline.New(pcfg)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(ctx)
	})
	g.Go(func() error {
		return srv.Serve(p, nil)
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
	return g.Wait()
}
