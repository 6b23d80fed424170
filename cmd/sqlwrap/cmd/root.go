package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	platform "github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/adapter"
	"github.com/CaliLuke/go-sqlwrap/config"
)

var (
	cfgFile      string
	outputFormat string
	verbose      bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sqlwrap",
	Short: "Run SQL through the sqlwrap adapter",
	Long: `sqlwrap opens a pooled data source for a registered vendor and runs queries,
updates and stored procedure calls through it. Escape syntax such as {fn ucase(?)}
and {? = call f(?)} is translated for the vendor, and failures are reported with
their SQLSTATE, vendor code and category.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	flags.BoolVarP(&verbose, "verbose", "v", false, "human readable development logging")

	// Bound to configuration keys by config.LoadWithFlags.
	flags.String("vendor", "", "vendor name (default from config or sqlite)")
	flags.String("dsn", "", "vendor data source name")
	flags.String("trace", "", "trace specification, e.g. *=info:adapter.*=debug")
	flags.Int("statement-cache-size", 0, "prepared statements cached per connection")
	flags.Int("pool-max-size", 0, "maximum physical connections")
}

// openDataSource loads the configuration and opens a data source. The caller
// closes it.
func openDataSource(cmd *cobra.Command) (*adapter.DataSource, error) {
	cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	// One-shot commands need at most one connection.
	cfg.Pool.MinSize = 0
	logger.Debug("configuration loaded",
		zap.String("vendor", cfg.Vendor),
		zap.Int("max_size", cfg.Pool.MaxSize),
		zap.String("trace", cfg.Trace))

	return adapter.New(commandContext(cmd), cfg, adapter.WithLogger(logger))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printError reports err on stderr, as a JSON error response when JSON
// output was requested.
func printError(err error) {
	if outputFormat == "json" {
		out, merr := json.MarshalIndent(platform.ToJSON(err), "", "  ")
		if merr == nil {
			fmt.Fprintln(os.Stderr, string(out))
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
