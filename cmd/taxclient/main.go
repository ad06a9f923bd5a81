package main

/*
* taxclient sends one Calculate call to a tax engine and prints the breakdown
 */

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"tax-rpc/client"
	"tax-rpc/codec"
	"tax-rpc/config"
	"tax-rpc/loadbalance"
	"tax-rpc/logging"
	"tax-rpc/rpcerr"
	"tax-rpc/session"
	"tax-rpc/taxengine"
)

func main() {
	app := cli.NewApp()
	app.Name = "taxclient"
	app.Usage = "query a tax engine"
	app.Version = session.ProtocolVersion.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "TAXCLIENT_CONFIG",
		},
		cli.StringFlag{
			Name:   "address, a",
			Usage:  "server address, used when the registry lists none",
			EnvVar: "TAXCLIENT_ADDRESS",
		},
		cli.StringFlag{
			Name:  "client-id",
			Value: "client_1",
		},
		cli.Float64Flag{
			Name:  "amount",
			Value: 1000.0,
		},
		cli.StringFlag{
			Name:  "jurisdiction, j",
			Value: "TEST_J",
		},
		cli.StringFlag{
			Name:  "product, p",
			Value: "TEST_PROD",
		},
		cli.StringFlag{
			Name:  "date",
			Usage: "transaction date (YYYY-MM-DD), today when empty",
		},
		cli.StringFlag{
			Name:  "codec",
			Usage: "json or binary",
		},
	}
	app.Action = calculateCommand
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func calculateCommand(c *cli.Context) (err error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		PrintErr(os.Stderr, "RPC connection/setup failed: %v", err)
		return err
	}
	if addr := c.String("address"); addr != "" {
		cfg.Client.Address = addr
		cfg.Registry.Kind = config.RegistryStatic
		cfg.Registry.Addresses = nil
	}
	if name := c.String("codec"); name != "" {
		cfg.Client.Codec = name
	}

	tx := taxengine.Transaction{
		ClientID:     c.String("client-id"),
		Amount:       c.Float64("amount"),
		Jurisdiction: c.String("jurisdiction"),
		Product:      c.String("product"),
		Date:         c.String("date"),
	}
	return calculate(cfg, tx, os.Stdout, os.Stderr)
}

// calculate runs one call and reports it. Failures are printed to stderr
// before they are returned.
func calculate(cfg *config.Config, tx taxengine.Transaction, stdout, stderr io.Writer) (err error) {
	defer func() {
		if err != nil {
			if rpcerr.IsRemote(err) {
				PrintErr(stderr, "RPC error from server: %s", rpcerr.RemoteMessage(err))
			} else {
				PrintErr(stderr, "RPC connection/setup failed: %v", err)
			}
		}
	}()

	if err = cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	codecType, _ := codec.ParseType(cfg.Client.Codec)
	balancer, _ := loadbalance.New(cfg.Client.Balancer)
	reg, closeRegistry, err := cfg.Registry.OpenRegistry(cfg.Client.Address, logger)
	if err != nil {
		return err
	}
	defer closeRegistry()

	opts := session.DefaultOptions
	opts.Codec = codecType
	opts.DialTimeout = cfg.Client.DialTimeout
	opts.HeartbeatInterval = cfg.Client.Heartbeat
	opts.Peer = "taxclient"
	opts.Logger = logger
	rpc := client.NewClient(reg, balancer, client.Options{Session: opts, PoolSize: cfg.Client.PoolSize})
	defer rpc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.CallTimeout)
	defer cancel()

	engine, err := rpc.Bootstrap(ctx, cfg.Client.Service, tx.ClientID)
	if err != nil {
		return err
	}
	logger.Debug("calling engine", zap.String("session_id", engine.Session().ID()))

	fmt.Fprintf(stdout, "Built request for clientId: %s\n", tx.ClientID)
	resp, err := taxengine.NewClient(engine).Calculate(ctx, tx)
	if errors.Is(err, taxengine.ErrNoResponse) {
		// Not a failure: the engine had nothing to report.
		PrintErr(stderr, "No response or empty results from tax engine")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Total amount: %v\n", resp.TotalAmount)
	for _, b := range resp.Breakdown {
		fmt.Fprintf(stdout, "Tax: %s | Rate: %v | Amount: %v\n", b.TaxType, b.Rate, b.Amount)
	}
	return nil
}

func PrintErr(stderr io.Writer, msg string, args ...interface{}) {
	stderr.Write([]byte(fmt.Sprintf(msg, args...) + "\n"))
}
