package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot/plot"
)

var (
	plotYes       bool
	plotRate      float64
	plotTransform plot.Transform
)

var plotCmd = &cobra.Command{
	Use:   "plot FILE",
	Short: "Draw the points in FILE",
	Long: `Draw a path read from FILE, one "x,y" pair per line. Lines starting with
# are ignored. The operator is asked to remove the pen before the machine moves
to the first point, to insert it before drawing, and to remove it again when
the drawing is finished.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		points, err := plot.LoadFile(args[0], plotTransform)
		if err != nil {
			return err
		}
		logger.Info("points loaded", zap.String("file", args[0]), zap.Int("count", len(points)))
		ctx := cmd.Context()
		s, err := openSession(ctx, terminal(plotYes))
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Warn("close session", zap.Error(err))
			}
		}()
		mapping, err := plot.NewMapping(s.profile.Plot.Map...)
		if err != nil {
			return err
		}
		d := &plot.Driver{
			Machine: s.machine,
			Confirm: s.operator,
			Map:     mapping,
			Home:    s.profile.Plot.Home,
			Rate:    plotRate,
			Logger:  logger.Named("plot"),
			Progress: func(done, total int) {
				fmt.Fprintf(os.Stderr, "\r%d/%d", done, total)
				if done == total {
					fmt.Fprintln(os.Stderr)
				}
			},
		}
		return d.Run(ctx, points)
	},
}

func init() {
	rootCmd.AddCommand(plotCmd)
	flags := plotCmd.Flags()
	flags.BoolVarP(&plotYes, "yes", "y", false, "do not wait at operator checkpoints")
	flags.Float64VarP(&plotRate, "rate", "r", 0, "drawing rate in machine units per second (default profile velocity)")
	flags.StringVar(&plotTransform.X, "tx", "", "expression applied to x, for example \"x * 0.5\"")
	flags.StringVar(&plotTransform.Y, "ty", "", "expression applied to y")
}
