package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <sql> [args...]",
	Short: "Run a query and print its rows",
	Long: `Run a query through a pooled connection and print the result set.
Arguments bind to the ? markers in order; \N binds SQL NULL.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <sql> [args...]",
	Short: "Run an update and print the rows affected",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(execCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ds, err := openDataSource(cmd)
	if err != nil {
		return err
	}
	defer ds.Close()
	db := ds.OpenDB()
	defer db.Close()

	ctx := commandContext(cmd)
	rows, err := db.QueryContext(ctx, args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	out := table{Columns: cols}
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range dest {
			dest[i] = printable(v)
		}
		out.Rows = append(out.Rows, dest)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	logger.Debug("query finished", zap.Int("rows", len(out.Rows)))
	return render(cmd.OutOrStdout(), out)
}

func runExec(cmd *cobra.Command, args []string) error {
	ds, err := openDataSource(cmd)
	if err != nil {
		return err
	}
	defer ds.Close()
	db := ds.OpenDB()
	defer db.Close()

	res, err := db.ExecContext(commandContext(cmd), args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	out := table{
		Columns: []string{"rows_affected", "last_insert_id"},
		Rows:    [][]any{{affected, nil}},
	}
	if id, err := res.LastInsertId(); err == nil {
		out.Rows[0][1] = id
	}
	if outputFormat == "table" {
		fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) affected\n", affected)
		return nil
	}
	return render(cmd.OutOrStdout(), out)
}
