package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scenecore/internal/config"
	"scenecore/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scened",
	Short: "scened - conversational scene core",
	Long: `scened turns a conversational agent's replies into scene directives.

It decodes directives from free-form agent text, detects capture
notifications, drives the scene state machine and keeps a snapshot of every
identity's conversation so switching back resumes where it left off.

Without a live upstream it talks to a built-in simulated agent.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if err := logging.Initialize(loaded.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// chatCmd runs an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the simulated agent and watch the scene change",
	Long: `Starts an interactive conversation. Lines are sent to the agent;
lines starting with / are commands:

  /switch <id> [name]   switch to another identity (restores its snapshot)
  /reset                discard the conversation and its snapshot
  /scene                show the current scene
  /stats                show decoder statistics
  /quit                 exit`,
	RunE: runChat,
}

// decodeCmd decodes agent text
var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a directive from agent text (stdin or file)",
	Long: `Runs agent text through the directive decoder and capture extractor
and prints the result as JSON.

Example:
  echo 'Sure! {"action":"CHANGE_SCENE","payload":{"sceneContext":{"setting":"beach"}}}' | scened decode`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

// replayCmd runs a scripted conversation
var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Replay a YAML conversation script and print the scene after each step",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".scenecore/config.yaml", "Config file")

	// Chat flags
	chatCmd.Flags().StringVar(&chatIdentity, "identity", "guest", "Identity to start as")
	chatCmd.Flags().StringVar(&chatName, "name", "", "Display name for the starting identity")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
