package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"HydrophoneStreamer/internal/app"
	"HydrophoneStreamer/internal/config"
	"HydrophoneStreamer/internal/logging"
)

const envFile = ".env"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	networkFlag := flag.String("network", "", "hydrophone network: onc or ooi (or set HYDROPHONE_NETWORK env var)")
	streamSettingFlag := flag.String("stream-setting", "", "stream filter as an inline map or a path to a YAML/JSON file")
	saveDirFlag := flag.String("save-dir", "", "directory receiving audio files (or set HYDROPHONE_SAVE_DIR env var)")
	configFlag := flag.String("config", "", "path to YAML config (or set HYDROPHONE_STREAMER_CONFIG env var)")
	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, error")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to listen on for prometheus metrics")
	onceFlag := flag.Bool("once", false, "run a single fetch cycle and exit")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s set-token <token>\n\nFlags:\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Println(app.Version)
		return nil
	}

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "set-token" {
			return fmt.Errorf("unknown command %q", args[0])
		}
		if len(args) != 2 || args[1] == "" {
			return errors.New("usage: set-token <token>")
		}
		if err := setToken(envFile, args[1]); err != nil {
			return err
		}
		fmt.Printf("%s saved to %s\n", config.TokenEnv, envFile)
		return nil
	}

	// godotenv does not override existing env vars, so explicit exports win.
	_ = godotenv.Load(envFile)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if *networkFlag != "" {
		cfg.Network = *networkFlag
	}
	if *saveDirFlag != "" {
		cfg.SaveDir = *saveDirFlag
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}
	if *metricsAddrFlag != "" {
		cfg.Metrics.Addr = *metricsAddrFlag
	}
	if *streamSettingFlag != "" {
		setting, err := config.ParseStreamSetting(*streamSettingFlag)
		if err != nil {
			return err
		}
		cfg.StreamSetting = setting
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.NewFromConfig(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	if *onceFlag {
		result, err := application.RunOnce(ctx)
		log.Info("single cycle finished", "fetched", len(result.Fetched), "ordered", result.Ordered)
		return err
	}

	return application.Run(ctx)
}

// setToken stores the ONC token in the dotenv file, keeping other entries.
func setToken(path, token string) error {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		env = map[string]string{}
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	env[config.TokenEnv] = token
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
