package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"scenecore/internal/agent"
	"scenecore/internal/concierge"
	"scenecore/internal/directive"
	"scenecore/internal/scene"
)

var (
	chatIdentity string
	chatName     string
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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

	if err := switchTo(ctx, out, rt, chatIdentity, chatName); err != nil {
		return err
	}

	feed := watchScene(rt.scene)
	defer feed.stop()

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		for _, l := range feed.drain() {
			fmt.Fprintln(out, mutedStyle.Render(l))
		}
		fmt.Fprint(out, mutedStyle.Render(rt.ctrl.Identity()+" > "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, out, rt, line)
			if err != nil {
				fmt.Fprintln(out, renderError(err))
			}
			if quit {
				return nil
			}
			continue
		}

		turn, err := rt.ctrl.Send(ctx, line)
		if err != nil {
			fmt.Fprintln(out, renderError(err))
		}
		if s := renderTurn(turn); s != "" {
			fmt.Fprintln(out, s)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// chatCommand handles one slash command. It reports whether to quit.
func chatCommand(ctx context.Context, out io.Writer, rt *runtime, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/reset":
		if rt.ctrl.ResetSession(ctx) {
			fmt.Fprintln(out, mutedStyle.Render("(session reset)"))
		} else {
			fmt.Fprintln(out, mutedStyle.Render("(reset queued until identity resolves)"))
		}

	case "/scene":
		rt.scene.Wait()
		fmt.Fprintln(out, renderScene(rt.scene.State()))

	case "/stats":
		s := rt.decoder.GetStats()
		fmt.Fprintf(out, "decoded %d: json=%d extracted=%d repaired=%d trimmed=%d none=%d\n",
			s.Total, s.Direct, s.Extracted, s.Repaired, s.Trimmed, s.Failed)

	case "/sessions":
		ids, err := savedSessions(ctx, rt)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("(no saved sessions)"))
		} else {
			fmt.Fprintln(out, "saved sessions: "+strings.Join(ids, ", "))
		}

	case "/switch":
		if len(fields) < 2 {
			return false, errors.New("usage: /switch <id> [name]")
		}
		name := strings.Join(fields[2:], " ")
		return false, switchTo(ctx, out, rt, fields[1], name)

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func switchTo(ctx context.Context, out io.Writer, rt *runtime, identity, name string) error {
	if identity == "" {
		return errors.New("identity must not be empty")
	}
	if name == "" {
		name = displayName(identity)
	}
	turn, err := rt.ctrl.SwitchIdentity(ctx, identity, agent.Profile{Name: name})
	if err != nil {
		return err
	}
	if s := renderTurn(turn); s != "" {
		fmt.Fprintln(out, s)
	}
	return nil
}

// displayName is identity with its first letter upper-cased.
func displayName(identity string) string {
	r, size := utf8.DecodeRuneInString(identity)
	if r == utf8.RuneError {
		return identity
	}
	return string(unicode.ToUpper(r)) + identity[size:]
}

// savedSessions lists the identities with a snapshot: the durable store
// when one is configured, the in-memory cache otherwise.
func savedSessions(ctx context.Context, rt *runtime) ([]string, error) {
	if rt.db == nil {
		return rt.cache.Identities(), nil
	}
	// Pending writes land in the store before it is read.
	if err := rt.cache.Flush(ctx); err != nil {
		return nil, err
	}
	return rt.db.List(ctx)
}

// sceneFeed turns scene updates into one-line notices. Updates arrive on
// the orchestrator's goroutines; the chat loop prints them between turns.
type sceneFeed struct {
	mu      sync.Mutex
	layout  scene.Layout
	token   uint64
	pending []string
	cancel  func()
}

func watchScene(o *scene.Orchestrator) *sceneFeed {
	st := o.State()
	f := &sceneFeed{layout: st.Layout}
	f.cancel = o.Subscribe(f.observe)
	return f
}

func (f *sceneFeed) observe(s scene.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Layout != f.layout {
		f.pending = append(f.pending, fmt.Sprintf("(scene: %s -> %s)", f.layout, s.Layout))
		f.layout = s.Layout
	}
	if s.Background.Generated && !s.Background.Loading && s.GenerationToken != 0 && s.GenerationToken != f.token {
		f.pending = append(f.pending, fmt.Sprintf("(background ready: %s)", s.Setting))
		f.token = s.GenerationToken
	}
}

func (f *sceneFeed) drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

func (f *sceneFeed) stop() {
	f.cancel()
}
