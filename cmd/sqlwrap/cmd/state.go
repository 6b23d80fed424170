package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// nativeCmd represents the native command
var nativeCmd = &cobra.Command{
	Use:   "native <sql>",
	Short: "Print a statement with escape syntax translated for the vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataSource(cmd)
		if err != nil {
			return err
		}
		defer ds.Close()
		conn, err := ds.Conn(commandContext(cmd))
		if err != nil {
			return err
		}
		defer conn.Close()

		native, err := conn.NativeSQL(args[0])
		if err != nil {
			return err
		}
		if outputFormat == "table" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), native)
			return err
		}
		return render(cmd.OutOrStdout(), table{Columns: []string{"sql"}, Rows: [][]any{{native}}})
	},
}

// stateCmd represents the state command
var stateCmd = &cobra.Command{
	Use:   "state <sqlstate>...",
	Short: "Classify SQLSTATE codes",
	Long:  `Print the category of each SQLSTATE and whether repeating the unit of work may succeed.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := table{Columns: []string{"sqlstate", "class", "category", "retryable"}}
		for _, s := range args {
			s = strings.ToUpper(s)
			category := sqlerr.Classify(s)
			out.Rows = append(out.Rows, []any{s, sqlerr.Class(s), string(category), category.Retryable()})
		}
		return render(cmd.OutOrStdout(), out)
	},
}

// vendorsCmd represents the vendors command
var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List the registered vendors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := table{Columns: []string{"vendor", "dialect"}}
		for _, name := range driver.Vendors() {
			v, err := driver.Lookup(name)
			if err != nil {
				return err
			}
			dialect := "sqlite"
			if v.Dialect != nil {
				dialect = v.Dialect.Name
			}
			out.Rows = append(out.Rows, []any{name, dialect})
		}
		return render(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(nativeCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(vendorsCmd)
}
