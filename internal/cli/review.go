package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/harun/callcore/internal/observability"
	"github.com/harun/callcore/pkg/agent"
	"github.com/harun/callcore/pkg/callsession"
	"github.com/harun/callcore/pkg/transcript"
	"github.com/spf13/cobra"
)

var (
	reviewSession  string
	reviewManifest string
	reviewDataDir  string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run one governance pass over an archived call",
	Long: `Load an archived session transcript and context, run a single governance
review against the configured model, store the merged result back and print it.`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewSession, "session", "", "session id to review (required)")
	reviewCmd.Flags().StringVar(&reviewManifest, "manifest", "", "tool manifest to load (default is tools.manifest_path from config)")
	reviewCmd.Flags().StringVar(&reviewDataDir, "data-dir", "", "data directory (default is data_dir from config)")
	_ = reviewCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) (err error) {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if reviewDataDir != "" {
		a.cfg.DataDir = reviewDataDir
	}
	if err := observability.InitAuditLogger(filepath.Join(a.cfg.DataDir, "audit.jsonl")); err != nil {
		a.log.Warn().Err(err).Msg("Audit log disabled")
	}
	defer observability.SetAuditWriter(nil)

	base := a.log.GetZerolog()
	store, err := transcript.NewStore(a.cfg.TranscriptDir(), base)
	if err != nil {
		return err
	}
	archived, err := store.Load(cmd.Context(), reviewSession)
	if err != nil {
		return err
	}
	if len(archived) == 0 {
		return fmt.Errorf("no transcript archived for session %s", reviewSession)
	}

	configs, err := a.resolverConfigs(reviewManifest)
	if err != nil {
		return err
	}
	completer, err := agent.NewCompleter(a.cfg.AgentLLM())
	if err != nil {
		return err
	}

	sess, err := callsession.New(callsession.Config{
		SessionID:         reviewSession,
		Logger:            base,
		Resolver:          configs,
		Completer:         completer,
		GovernanceTimeout: a.cfg.GovernanceTimeout(),
		Store:             store,
		Resume:            true,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close(cmd.Context()))
	}()

	if err := sess.Governance().Execute(cmd.Context()); err != nil {
		return fmt.Errorf("governance review failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sess.Context().Governance())
}
