package main

/*
* taxd serves the tax Engine over tax-rpc sessions
 */

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"tax-rpc/config"
	"tax-rpc/logging"
	"tax-rpc/middleware"
	"tax-rpc/server"
	"tax-rpc/session"
	"tax-rpc/store"
	"tax-rpc/taxengine"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "taxd"
	app.Usage = "tax engine server"
	app.Version = session.ProtocolVersion.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "TAXD_CONFIG",
		},
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "debug, info, warn or error",
			EnvVar: "TAXD_LOG_LEVEL",
		},
		cli.StringFlag{
			Name:   "db",
			Usage:  "LevelDB directory, empty for memory",
			EnvVar: "TAXD_DB",
		},
	}
	serveFlags := []cli.Flag{
		cli.StringFlag{
			Name:   "listen, l",
			Usage:  "address to listen on",
			EnvVar: "TAXD_LISTEN",
		},
		cli.StringFlag{
			Name:   "advertise",
			Usage:  "address announced to the registry",
			EnvVar: "TAXD_ADVERTISE",
		},
		cli.StringFlag{
			Name:  "seed",
			Usage: "seed file applied before serving",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "serve",
			Usage:  "Serve the Engine service (default).",
			Flags:  serveFlags,
			Action: serveCommand,
		},
		cli.Command{
			Name:      "seed",
			Usage:     "Load profiles and IVA rates from a YAML file into the store.",
			ArgsUsage: "FILE",
			Action:    seedCommand,
		},
	}
	app.Action = serveCommand
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if c.GlobalIsSet("db") {
		cfg.Store.Path = c.GlobalString("db")
	}
	if addr := c.String("listen"); addr != "" {
		cfg.Server.Listen = addr
	}
	if addr := c.String("advertise"); addr != "" {
		cfg.Server.Advertise = addr
	}
	if seed := c.String("seed"); seed != "" {
		cfg.Store.Seed = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCommand(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.OpenLevelDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Store.Seed != "" {
		if err = applySeed(cfg.Store.Seed, db); err != nil {
			return err
		}
		logger.Info("seed applied", zap.String("file", cfg.Store.Seed))
	}

	cache, err := store.NewLRUCache(cfg.Store.CacheSize, cfg.Store.CacheTTL)
	if err != nil {
		return err
	}
	resolver := taxengine.NewProfileResolver(db, cache, logger)
	engine := taxengine.NewEngine(taxengine.NewOrchestrator(resolver, logger), logger)

	reg, closeRegistry, err := cfg.Registry.OpenRegistry(cfg.Server.Advertise, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	srv := server.NewServer(
		server.WithLogger(logger),
		server.WithIdleTimeout(cfg.Server.IdleTimeout),
		server.WithRegistry(reg, cfg.Server.Advertise, cfg.Registry.TTL),
	)
	// Engine is registered first: it is the bootstrap capability.
	if _, err = srv.Register(engine); err != nil {
		return err
	}
	srv.Use(middleware.Logging(logger))
	if cfg.Server.Retries > 0 {
		srv.Use(middleware.Retry(cfg.Server.Retries, cfg.Server.RetryDelay, middleware.TransientError, logger))
	}
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		srv.Use(middleware.Timeout(cfg.Server.HandlerTimeout))
	}
	// Innermost, so it runs on the goroutine Timeout starts for the handler.
	srv.Use(middleware.Recover(logger))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe("tcp", cfg.Server.Listen)
	}()
	logger.Info("taxd listening",
		zap.String("listen", cfg.Server.Listen),
		zap.String("registry", cfg.Registry.Kind),
		zap.String("store", cfg.Store.Path))

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM)
	select {
	case err = <-serveErr:
		return errors.Wrap(err, "serve")
	case sig := <-stopSignal:
		logger.Info("stopping with signal", zap.Stringer("signal", sig))
	}
	return srv.Shutdown(shutdownTimeout)
}

func seedCommand(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: taxd seed FILE", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := store.OpenLevelDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = applySeed(c.Args().First(), db); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Seeded %s from %s\n", cfg.Store.Path, c.Args().First())
	return nil
}

func applySeed(path string, w store.Writer) error {
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	return seed.Apply(context.Background(), w)
}
