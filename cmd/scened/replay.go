package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scenecore/internal/agent"
	"scenecore/internal/concierge"
	"scenecore/internal/directive"
)

// replayScript is a scripted conversation.
//
//	steps:
//	  - identity: ada
//	    name: Ada
//	    say: I have a wedding coming up
//	  - say: take me to the beach
//	  - reset: true
type replayScript struct {
	Steps []replayStep `yaml:"steps"`
}

type replayStep struct {
	Identity string `yaml:"identity"`
	Name     string `yaml:"name"`
	Say      string `yaml:"say"`
	Reset    bool   `yaml:"reset"`
}

func loadReplayScript(path string) (replayScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replayScript{}, fmt.Errorf("failed to read script: %w", err)
	}
	var s replayScript
	if err := yaml.Unmarshal(data, &s); err != nil {
		return replayScript{}, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return replayScript{}, fmt.Errorf("script %s has no steps", path)
	}
	return s, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	script, err := loadReplayScript(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	rt, err := buildRuntime(ctx, cfg, concierge.NotifierFunc(func(c directive.Capture) {
		fmt.Fprintln(out, renderToast(c))
	}))
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			fmt.Fprintln(out, renderError(err))
		}
	}()

	for i, step := range script.Steps {
		fmt.Fprintf(out, "--- step %d\n", i+1)
		if step.Identity != "" && step.Identity != rt.ctrl.Identity() {
			name := step.Name
			if name == "" {
				name = step.Identity
			}
			turn, err := rt.ctrl.SwitchIdentity(ctx, step.Identity, agent.Profile{Name: name})
			if err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			fmt.Fprintln(out, renderTurn(turn))
		}
		if step.Reset {
			rt.ctrl.ResetSession(ctx)
			fmt.Fprintln(out, mutedStyle.Render("(session reset)"))
		}
		if step.Say != "" {
			fmt.Fprintf(out, "%s > %s\n", rt.ctrl.Identity(), step.Say)
			turn, err := rt.ctrl.Send(ctx, step.Say)
			if err != nil {
				fmt.Fprintln(out, renderError(err))
			}
			fmt.Fprintln(out, renderTurn(turn))
		}
		rt.scene.Wait()
		fmt.Fprintln(out, renderScene(rt.scene.State()))
	}
	return nil
}
