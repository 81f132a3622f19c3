// Package query implements the query sub-command: one-shot reads against
// the configured chain source, printed as JSON.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/longphanquangminh/midnight-explorer/cmd/common"
	"github.com/longphanquangminh/midnight-explorer/config"
	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/storage/client"
)

const moduleName = "query"

// queryFunc is one resolved query against the facade.
type queryFunc func(ctx context.Context, c *client.StorageClient) (interface{}, error)

var (
	// Path to the configuration file.
	configFile string

	// Print the N most recent items instead of a page.
	latestBlocks int
	latestTxs    int

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Run one-shot queries against the configured chain source",
	}

	blocksCmd = &cobra.Command{
		Use:   "blocks [cursor]",
		Short: "List one page of blocks, newest first",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				if latestBlocks > 0 {
					return c.LatestBlocks(ctx, latestBlocks)
				}
				return c.GetBlocksPage(ctx, cursorArg(args, 0))
			})
		},
	}

	blockCmd = &cobra.Command{
		Use:   "block <height-or-hash>",
		Short: "Look up a single block by height or hash",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				return c.GetBlockByHashOrHeight(ctx, args[0])
			})
		},
	}

	txsCmd = &cobra.Command{
		Use:   "txs [cursor]",
		Short: "List one page of transactions, newest first",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				if latestTxs > 0 {
					return c.LatestTransactions(ctx, latestTxs)
				}
				return c.GetTransactionsPage(ctx, cursorArg(args, 0))
			})
		},
	}

	txCmd = &cobra.Command{
		Use:   "tx <hash>",
		Short: "Look up a single transaction by hash",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				return c.GetTransactionByHash(ctx, args[0])
			})
		},
	}

	blockTxsCmd = &cobra.Command{
		Use:   "block-txs <height-or-hash> [cursor]",
		Short: "List one page of a block's transactions in operation order",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				return c.GetBlockTransactions(ctx, args[0], cursorArg(args, 1))
			})
		},
	}

	addressCmd = &cobra.Command{
		Use:   "address <address>",
		Short: "Look up the aggregate view of an address",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runQuery(func(ctx context.Context, c *client.StorageClient) (interface{}, error) {
				return c.GetAddressSummary(ctx, args[0])
			})
		},
	}
)

func cursorArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func runQuery(query queryFunc) {
	if err := doQuery(query); err != nil {
		os.Exit(1)
	}
}

// doQuery wires config, logging and the storage client, runs one query,
// and prints the result as indented JSON. Absent entities print as null.
func doQuery(query queryFunc) error {
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		return err
	}
	if err = common.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		return err
	}
	logger := common.RootLogger().WithModule(moduleName)

	c, err := client.NewStorageClient(cfg.Source, logger)
	if err != nil {
		logger.Error("failed to initialize storage client", "err", err)
		return err
	}
	defer c.Shutdown()
	logger.Info("storage client ready", "source", c.SourceName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := query(ctx, c)
	if err != nil {
		logger.Error("query failed", "err", err)
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error("failed to marshal result", "err", err)
		return err
	}
	fmt.Println(string(out))
	return nil
}

// Register registers the query sub-command.
func Register(parentCmd *cobra.Command) {
	queryCmd.PersistentFlags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	blocksCmd.Flags().IntVar(&latestBlocks, "latest", 0, "print the N most recent blocks instead of a page")
	txsCmd.Flags().IntVar(&latestTxs, "latest", 0, "print the N most recent transactions instead of a page")
	queryCmd.AddCommand(blocksCmd, blockCmd, txsCmd, txCmd, blockTxsCmd, addressCmd)
	parentCmd.AddCommand(queryCmd)
}
