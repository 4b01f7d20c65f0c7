package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/lazypower/autodj/internal/client"
	"github.com/lazypower/autodj/internal/config"
	"github.com/lazypower/autodj/internal/library"
	"github.com/lazypower/autodj/internal/model"
	"github.com/lazypower/autodj/internal/store"
	"github.com/spf13/cobra"
)

// openStore opens the experience store named by the config, or the default path.
func openStore(cfg *config.Config) (*store.DB, string, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, dbPath, nil
}

func openDB() (*store.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, _, err := openStore(cfg)
	return db, err
}

// --- scores command ---

var scoresLimit int

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show the highest scoring transition decisions",
	Args:  cobra.NoArgs,
	RunE:  runScores,
}

func runScores(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.TopRows(cmd.Context(), scoresLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No scores yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\t+\t-\tMODE\tTRANSITION\tCONTEXT\tTRACK A\tTRACK B")
	for _, r := range rows {
		fmt.Fprintf(tw, "%.3f\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Score, r.NPositive, r.NNegative, r.Mode, r.TransitionType, r.ContextBucket,
			orDash(r.TrackA), orDash(r.TrackB))
	}
	return tw.Flush()
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// --- feedback command ---

var (
	feedbackLabel      string
	feedbackMode       string
	feedbackTransition string
	feedbackTrackA     string
	feedbackTrackB     string
	feedbackContext    string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record GOOD/BAD feedback for a transition decision",
	Long:  "Applies one feedback event directly to the experience store. Safe to run while a server has the same database open.",
	Args:  cobra.NoArgs,
	RunE:  runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	label, err := model.ParseLabel(feedbackLabel)
	if err != nil {
		return err
	}
	ev := model.FeedbackEvent{
		Label:          label,
		DecisionMode:   feedbackMode,
		TransitionType: feedbackTransition,
		ContextBucket:  feedbackContext,
	}
	if cmd.Flags().Changed("track-a") {
		ev.TrackA = &feedbackTrackA
	}
	if cmd.Flags().Changed("track-b") {
		ev.TrackB = &feedbackTrackB
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ApplyFeedback(cmd.Context(), ev); err != nil {
		return err
	}
	row, err := db.GetScore(cmd.Context(), store.KeyOf(ev))
	if err != nil {
		return err
	}
	if row != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "score %.3f (+%d/-%d)\n", row.Score, row.NPositive, row.NNegative)
	}
	return nil
}

// --- scan command ---

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Scan a music directory and list the tracks found",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if dir, err = cfg.ResolvedMusicDir(); err != nil {
			return err
		}
	}

	scanner, err := library.NewScanner(0)
	if err != nil {
		return err
	}
	defer scanner.Close()

	tracks, err := scanner.Scan(cmd.Context(), dir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BPM\tKEY\tTITLE")
	for _, t := range tracks {
		fmt.Fprintf(tw, "%g\t%s\t%s\n", t.BPM, t.Key, t.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d tracks in %s\n", len(tracks), dir)
	return nil
}

// --- state command ---

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the session state of a running server",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func runState(cmd *cobra.Command, args []string) error {
	c, err := reachableClient()
	if err != nil {
		return err
	}
	st, err := c.State()
	if err != nil {
		return fmt.Errorf("server at %s: %w", c.URL(), err)
	}
	return printState(cmd, st)
}

// --- start / stop commands ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := reachableClient()
		if err != nil {
			return err
		}
		st, err := c.StartSession()
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		return printState(cmd, st)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the session on a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := reachableClient()
		if err != nil {
			return err
		}
		st, err := c.StopSession()
		if err != nil {
			return fmt.Errorf("stop session: %w", err)
		}
		return printState(cmd, st)
	},
}

func reachableClient() (*client.Client, error) {
	c := client.New()
	if !c.Healthy() {
		return nil, fmt.Errorf("no autodj server at %s (start one with `autodj serve`)", c.URL())
	}
	return c, nil
}

func printState(cmd *cobra.Command, st *model.SessionState) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func init() {
	scoresCmd.Flags().IntVarP(&scoresLimit, "limit", "n", store.DefaultTopLimit, "Maximum number of rows")

	feedbackCmd.Flags().StringVarP(&feedbackLabel, "label", "l", "", "GOOD or BAD")
	feedbackCmd.Flags().StringVarP(&feedbackMode, "mode", "m", "", "Decision mode (single, double, early_cut, fake_drop)")
	feedbackCmd.Flags().StringVarP(&feedbackTransition, "transition", "t", "", "Transition type (hard_cut, echo_out, silence)")
	feedbackCmd.Flags().StringVar(&feedbackTrackA, "track-a", "", "Track on deck A")
	feedbackCmd.Flags().StringVar(&feedbackTrackB, "track-b", "", "Track on deck B")
	feedbackCmd.Flags().StringVarP(&feedbackContext, "context", "c", "", "Context bucket (default \"default\")")
	feedbackCmd.MarkFlagRequired("label")
	feedbackCmd.MarkFlagRequired("mode")
	feedbackCmd.MarkFlagRequired("transition")
}
