package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot/fabnet"
	"github.com/jt05610/drawbot/node"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := fabnet.ListPorts()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tVID:PID\tFTDI\tPRODUCT")
		for _, p := range ports {
			id := "-"
			if p.USB {
				id = p.VID + ":" + p.PID
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.Name, id, p.FTDI, p.Product)
		}
		return w.Flush()
	},
}

var bindForget bool

var bindCmd = &cobra.Command{
	Use:   "bind [NODE ...]",
	Short: "Bind node names to bus addresses",
	Long: `Bind every node of the profile that has no stored address, asking the
operator to press the button on each board in turn. With --forget the named
nodes (or all nodes) are unbound first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if bindForget {
			if err := forget(ctx, args); err != nil {
				return err
			}
		}
		s, err := openSession(ctx, terminal(false))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tADDRESS\tFIRMWARE")
		for _, n := range node.Flatten(s.machine.Nodes()...) {
			if b, ok := n.(*fabnet.Node); ok {
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name(), b.Address(), b.Firmware())
				continue
			}
			fmt.Fprintf(w, "%s\t-\t-\n", n.Name())
		}
		if err := w.Flush(); err != nil {
			return multierr.Append(err, s.Close())
		}
		return s.Close()
	},
}

func forget(ctx context.Context, names []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	bindings, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = bindings.Names()
	}
	for _, name := range names {
		delete(bindings, name)
		logger.Info("binding removed", zap.String("node", name))
	}
	return store.Save(ctx, bindings)
}

func init() {
	rootCmd.AddCommand(portsCmd, bindCmd)
	bindCmd.Flags().BoolVar(&bindForget, "forget", false, "remove stored bindings before binding")
}
