package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"scenecore/internal/agent"
	"scenecore/internal/capture"
	"scenecore/internal/directive"
)

// decodeOutput is what `scened decode` prints.
type decodeOutput struct {
	Method    directive.Method     `json:"method"`
	Display   string               `json:"display"`
	Directive *directive.Directive `json:"directive"`
	Captures  []directive.Capture  `json:"captures,omitempty"`
	Filtered  []directive.Capture  `json:"filtered,omitempty"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	policy := capture.DefaultPolicy()
	if cfg.Capture.PolicyPath != "" {
		if policy, err = capture.LoadPolicy(cfg.Capture.PolicyPath); err != nil {
			return err
		}
	} else if cfg.Capture.MinBodyLength > 0 {
		policy.MinBodyLength = cfg.Capture.MinBodyLength
	}

	out := decodeText(string(raw), capture.NewExtractor(policy))
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func decodeText(text string, ex *capture.Extractor) decodeOutput {
	res := directive.NewDecoder().Decode(text)
	caps := ex.Extract(capture.Input{
		Chunks:    []agent.Chunk{{Kind: agent.ChunkText, Text: text}},
		Directive: res.Directive,
		Display:   res.Display,
	})
	return decodeOutput{
		Method:    res.Method,
		Display:   caps.Display,
		Directive: capture.Merge(res.Directive, caps.Captures),
		Captures:  caps.Captures,
		Filtered:  caps.Filtered,
	}
}
