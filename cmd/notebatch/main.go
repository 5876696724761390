package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"notebatch/internal/conf"
	"notebatch/pkg/logging"
)

const usage = `Usage: notebatch [flags] <command> [args]

Commands:
  range <notesFile> <parentOutDir> [start] [end]   run a range of scoring runs for one dataset
  dispatch                                         discover datasets and run the whole batch
  sample [flags] <pid> <csvPath> [label]           sample memory usage of a process
  survey <outputRoot>                              count completed runs under an output tree
  enqueue                                          publish the batch's run requests to Kafka
  worker [flags]                                   consume run requests from Kafka and execute them

Flags:
  -conf <path>       configuration file (optional; defaults apply without it)
  -log-level <lvl>   zap log level (default "info")
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	confPath := flag.String("conf", "", "path to the configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*confPath)
	if err != nil {
		zap.L().Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	switch cmd := args[0]; cmd {
	case "range":
		err = runRange(ctx, cfg, args[1:])
	case "dispatch":
		err = runDispatch(ctx, cfg, args[1:])
	case "sample":
		err = runSample(ctx, args[1:])
	case "survey":
		err = runSurvey(args[1:])
	case "enqueue":
		err = runEnqueue(ctx, cfg, args[1:])
	case "worker":
		err = runWorker(ctx, cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		zap.L().Error("command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*conf.Config, error) {
	if path == "" {
		return conf.Default(), nil
	}
	return conf.Load(path)
}
