package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CaliLuke/go-sqlwrap/adapter"
)

var outParams []string

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <escape> [args...]",
	Short: "Call a stored procedure or function",
	Long: `Call a routine written in {call} escape syntax and print its output parameters.
Output parameters are declared with --out index:TYPE, for example

  sqlwrap call '{? = call abs(?)}' --out 1:BIGINT -- -7

Arguments bind in order to the parameters that are not output-only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringArrayVar(&outParams, "out", nil, "output parameter as index:TYPE[:scale] (repeatable)")
}

type outSpec struct {
	index int
	typ   adapter.SQLType
	scale int
}

var sqlTypes = func() map[string]adapter.SQLType {
	m := make(map[string]adapter.SQLType)
	for t := adapter.TypeOther; t <= adapter.TypeArray; t++ {
		m[t.String()] = t
	}
	return m
}()

func parseOut(s string) (outSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return outSpec{}, fmt.Errorf("invalid --out %q: want index:TYPE[:scale]", s)
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return outSpec{}, fmt.Errorf("invalid --out %q: %w", s, err)
	}
	typ, ok := sqlTypes[strings.ToUpper(parts[1])]
	if !ok {
		return outSpec{}, fmt.Errorf("invalid --out %q: unknown type %s", s, parts[1])
	}
	spec := outSpec{index: index, typ: typ}
	if len(parts) == 3 {
		if spec.scale, err = strconv.Atoi(parts[2]); err != nil {
			return outSpec{}, fmt.Errorf("invalid --out %q: %w", s, err)
		}
	}
	return spec, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	specs := make([]outSpec, 0, len(outParams))
	for _, s := range outParams {
		spec, err := parseOut(s)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	ds, err := openDataSource(cmd)
	if err != nil {
		return err
	}
	defer ds.Close()

	ctx := commandContext(cmd)
	conn, err := ds.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	cs, err := conn.PrepareCall(args[0])
	if err != nil {
		return err
	}
	defer cs.Close()

	for _, spec := range specs {
		if err := cs.RegisterOutScale(spec.index, spec.typ, spec.scale); err != nil {
			return err
		}
	}
	if err := cs.Execute(ctx, parseArgs(args[1:])...); err != nil {
		return err
	}

	out := table{Columns: []string{"parameter", "type", "value"}}
	for _, spec := range specs {
		v, err := cs.GetObject(spec.index)
		if err != nil {
			return err
		}
		out.Rows = append(out.Rows, []any{spec.index, spec.typ.String(), printable(v)})
	}
	return render(cmd.OutOrStdout(), out)
}
