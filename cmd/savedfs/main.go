// Command savedfs mounts the authenticated Telegram account's own "Saved
// Messages" chat as a FUSE filesystem, wiring internal/config,
// internal/telegram, internal/cache, internal/metadatastore and
// internal/fuseadapter together.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	flag "github.com/spf13/pflag"

	"github.com/duo/telegram-fuse/internal/cache"
	"github.com/duo/telegram-fuse/internal/config"
	"github.com/duo/telegram-fuse/internal/fuseadapter"
	"github.com/duo/telegram-fuse/internal/logging"
	"github.com/duo/telegram-fuse/internal/metadatastore"
	"github.com/duo/telegram-fuse/internal/remote"
	"github.com/duo/telegram-fuse/internal/retry"
	"github.com/duo/telegram-fuse/internal/telegram"
)

func usage() {
	fmt.Print(`savedfs - mount your Telegram Saved Messages as a filesystem.

Files are fetched on demand and cached locally; nothing is synced eagerly.
Directory structure and names live only in savedfs's own metadata store —
Telegram has no folder concept, so this tool never touches anyone else's
data but your own self-chat.

Usage: savedfs [options] <mountpoint>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	cfg := config.Defaults()
	configPath := flag.StringP("config-file", "f", config.DefaultConfigPath(), "YAML configuration file.")
	debugOn := flag.BoolP("debug", "d", false, "Enable FUSE debug logging.")
	config.RegisterFlags(flag.CommandLine, cfg)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	mountpoint := flag.Arg(0)

	if err := config.MergeFile(cfg, *configPath, flag.CommandLine); err != nil {
		fmt.Fprintln(os.Stderr, "savedfs:", err)
		os.Exit(1)
	}
	// The positional mountpoint argument is the canonical source: it is
	// required on every invocation, so it always wins over a --mountpoint
	// flag or a config file's mountpoint entry.
	cfg.Mountpoint = mountpoint
	if err := config.ValidateMountpoint(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "savedfs:", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "savedfs: invalid log level:", err)
		os.Exit(1)
	}
	logging.SetGlobalLevel(level)

	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		logging.Fatal().Err(err).Str("cacheDir", cfg.CacheDir).Msg("could not create cache directory")
	}

	metaStore, err := metadatastore.Open(cfg.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Str("databasePath", cfg.DatabasePath).Msg("could not open metadata store")
	}
	defer metaStore.Close()

	tgClient := telegram.New(telegram.Config{
		AppID:       cfg.AppID,
		AppHash:     cfg.AppHash,
		SessionPath: cfg.SessionPath,
	})
	var remoteClient remote.Client = cache.NewRetryingClient(tgClient, retry.DefaultConfig())

	cacheTable := cache.NewTable(cfg.CacheDir, cfg.CacheCapacity, remoteClient, metaStore)
	filesystem := fuseadapter.New(cacheTable, metaStore)

	mountOptions := &fuse.MountOptions{
		Name:   "savedfs",
		FsName: "savedfs",
		Debug:  *debugOn,
	}
	server, err := fuse.NewServer(filesystem, mountpoint, mountOptions)
	if err != nil {
		logging.Fatal().Err(err).Str("mountpoint", mountpoint).
			Msg("mount failed (is the mountpoint already in use?)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- tgClient.Run(ctx, func(ctx context.Context) error {
			logging.Info().Str("mountpoint", mountpoint).Msg("serving filesystem")
			server.Serve()
			return nil
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("signal received, unmounting")
		cancel()
		if err := server.Unmount(); err != nil {
			logging.Error().Err(err).Msg("unmount failed")
		}
	case err := <-runErr:
		cancel()
		if err != nil {
			logging.Error().Err(err).Msg("telegram client run exited with error")
		}
	}

	server.Wait()
}
