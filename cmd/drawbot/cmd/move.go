package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/machine"
)

var moveRate float64

// parseVector reads one number per argument. "_" leaves that component
// unchanged.
func parseVector(args []string) (machine.Sparse, error) {
	ret := make(machine.Sparse, len(args))
	for i, a := range args {
		if a == "_" {
			continue
		}
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, &drawbot.InputFormatError{Record: args, Err: errors.Wrapf(err, "component %d", i)}
		}
		ret[i] = &f
	}
	return ret, nil
}

func format(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var moveCmd = &cobra.Command{
	Use:   "move X [Y ...]",
	Short: "Move to an absolute machine position",
	Long:  `Move to an absolute position given per machine axis. Use _ to keep an axis where it is.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseVector(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(), terminal(true))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("close session", zap.Error(err))
			}
		}()
		if err := s.machine.MoveTo(cmd.Context(), target, moveRate); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), format(s.machine.Current()))
		return nil
	},
}

var jogCmd = &cobra.Command{
	Use:   "jog DX [DY ...]",
	Short: "Move relative to the current machine position",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sparse, err := parseVector(args)
		if err != nil {
			return err
		}
		delta := make([]float64, len(sparse))
		for i, f := range sparse {
			if f != nil {
				delta[i] = *f
			}
		}
		s, err := openSession(cmd.Context(), terminal(true))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("close session", zap.Error(err))
			}
		}()
		if err := s.machine.Jog(cmd.Context(), delta, moveRate); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), format(s.machine.Current()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(moveCmd, jogCmd)
	moveCmd.Flags().Float64VarP(&moveRate, "rate", "r", 0, "rate in machine units per second (default profile velocity)")
	jogCmd.Flags().Float64VarP(&moveRate, "rate", "r", 0, "rate in machine units per second (default profile velocity)")
}
