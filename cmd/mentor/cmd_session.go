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
	"syscall"
	"time"

	"github.com/dsamentor/mentor/internal/client"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/session"
)

// openSession builds a session machine over the daemon and loads its state
func openSession(ctx context.Context) (*session.Machine, error) {
	c := newClient()
	policy, err := c.Policy(ctx)
	if err != nil {
		return nil, daemonError(err)
	}
	m := session.NewMachine(session.Config{
		Backend:   c,
		Evaluator: c,
		Policy:    policy,
	})
	if _, err := m.Load(ctx, ""); err != nil {
		return nil, daemonError(err)
	}
	return m, nil
}

func daemonError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%w (is the daemon running? try 'mentor start')", err)
}

// act prints the view after a transition. Policy rejections are shown as
// feedback, not reported as failures.
func act(v session.View, err error) error {
	if err != nil && !domain.IsPolicyRejection(err) {
		return err
	}
	printView(v)
	if err != nil {
		fmt.Printf("\n✗ %s\n", domain.RejectionReason(err))
	}
	return nil
}

func printView(v session.View) {
	app := v.App
	problem := app.CurrentProblem
	if app.ProblemTitle != "" {
		problem = app.ProblemTitle
	}
	if problem == "" {
		problem = "(none - run 'mentor open <url>')"
	}

	fmt.Printf("Problem:    %s\n", problem)
	fmt.Printf("Phase:      %s\n", app.Phase)
	fmt.Printf("Confidence: %s\n", app.Confidence)
	fmt.Printf("Hints:      %d used, %d remaining", app.HintsUsed, v.HintsRemaining)
	if len(app.UsedHintTypes) > 0 {
		used := make([]string, 0, len(app.UsedHintTypes))
		for _, h := range app.UsedHintTypes {
			used = append(used, h.String())
		}
		fmt.Printf(" (%s)", strings.Join(used, ", "))
	}
	fmt.Println()

	if app.Phase == domain.PhaseThinking {
		fmt.Printf("Thinking:   %s left", formatSeconds(app.ThinkingTimeLeft))
		if app.SkipUsed {
			fmt.Print(" (skip used)")
		}
		fmt.Println()
		if v.CanProceed {
			fmt.Println("            time is up, run 'mentor proceed'")
		}
	}

	if v.Effort.Active {
		fmt.Printf("Effort:     hints locked, %s left, %d run(s) so far\n",
			formatSeconds(v.Effort.TimeLeft), v.Effort.RunCount)
	}

	if v.Feedback != "" {
		fmt.Println()
		if v.HintCategory != "" {
			fmt.Printf("%s hint:\n", v.HintCategory)
		}
		fmt.Println(v.Feedback)
	}

	if app.Phase == domain.PhaseReward {
		fmt.Println()
		fmt.Println("Pick a reward: mentor reward <Structural|Pseudo-Logic|Edge-Cases|Complexity>")
	}
}

func formatSeconds(s int) string {
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// cmdOpen reports the problem URL and shows the resulting session
func cmdOpen(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mentor open <url>")
	}
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	v, err := m.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if v.LastCheck.Reset {
		switch v.LastCheck.DaysSince {
		case "":
			fmt.Printf("Starting fresh on %s (%s)\n\n", v.LastCheck.Problem, v.LastCheck.Reason)
		default:
			fmt.Printf("Starting fresh on %s, last attempt %s days ago\n\n", v.LastCheck.Problem, v.LastCheck.DaysSince)
		}
	}
	printView(v)
	return nil
}

// cmdState shows the current session
func cmdState() error {
	m, err := openSession(context.Background())
	if err != nil {
		return err
	}
	printView(m.View())
	return nil
}

// cmdThink runs the thinking countdown in the foreground. Interrupting
// saves the remaining time.
func cmdThink() error {
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}

	v, err := m.StartThinking(ctx)
	if err != nil {
		return act(v, err)
	}
	total := float64(m.View().App.ThinkingTimeLeft)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	fmt.Println("Think about your approach before writing code.")
	for {
		v := m.View()
		left := v.App.ThinkingTimeLeft
		progress := 1.0
		if total > 0 {
			progress = 1 - float64(left)/total
		}
		fmt.Printf("\r%s %s ", renderProgressBar(progress, 30), formatSeconds(left))

		if v.CanProceed {
			fmt.Println()
			fmt.Print("Time is up. Press Enter to explain your approach...")
			_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
			return act(m.ProceedToInput(ctx))
		}

		select {
		case <-sigCh:
			fmt.Println()
			if err := m.Close(ctx); err != nil {
				return fmt.Errorf("save thinking time: %w", err)
			}
			fmt.Printf("Paused with %s left\n", formatSeconds(m.View().App.ThinkingTimeLeft))
			return nil
		case <-ticker.C:
		}
	}
}

func cmdSkip() error {
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	return act(m.SkipThinking(ctx))
}

func cmdProceed() error {
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	return act(m.ProceedToInput(ctx))
}

// cmdExplain submits an explanation from the arguments or stdin
func cmdExplain(args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" && stdinPiped() {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read explanation: %w", err)
		}
		text = string(data)
	}

	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	fmt.Println(session.EvaluatingFeedback)
	fmt.Println()
	return act(m.SubmitExplanation(ctx, text))
}

func cmdHint() error {
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	return act(m.RequestHint(ctx))
}

func cmdReward(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mentor reward <Structural|Pseudo-Logic|Edge-Cases|Complexity>")
	}
	category, err := domain.ParseHintCategory(strings.Join(args, " "))
	if err != nil {
		return err
	}
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	return act(m.SelectRewardOption(ctx, category))
}

func cmdRevise() error {
	ctx := context.Background()
	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	return act(m.ReviseThought(ctx))
}

// cmdReset clears the current problem's session; needs the operator secret
func cmdReset(args []string) error {
	secret := os.Getenv("MENTOR_OPERATOR_SECRET")
	for i := 0; i < len(args); i++ {
		if args[i] == "--confirm" && i+1 < len(args) {
			secret = args[i+1]
			i++
		}
	}
	if secret == "" {
		return fmt.Errorf("usage: mentor reset --confirm <secret>")
	}

	snap, err := newClient().AdminReset(context.Background(), secret)
	if err != nil {
		return daemonError(err)
	}
	fmt.Printf("✓ Reset %s\n", snap.App.CurrentProblem)
	return nil
}

// cmdSignal sends editor signals to the daemon
func cmdSignal(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mentor signal <typing|run|problem <title>>")
	}
	ctx := context.Background()
	c := newClient()

	switch args[0] {
	case "typing":
		if err := c.EditorTyping(ctx); err != nil {
			return daemonError(err)
		}
		return nil

	case "run":
		effort, err := c.RunClick(ctx)
		if err != nil {
			return daemonError(err)
		}
		if effort.Active {
			fmt.Printf("Run counted (%d)\n", effort.RunCount)
		} else {
			fmt.Println("Effort gate open")
		}
		return nil

	case "problem":
		if len(args) < 2 {
			return fmt.Errorf("usage: mentor signal problem <title>")
		}
		info := domain.ProblemInfo{Title: strings.Join(args[1:], " ")}
		if stdinPiped() {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read description: %w", err)
			}
			info.Description = string(data)
		}
		app, err := c.ProblemInfo(ctx, info)
		if err != nil {
			return daemonError(err)
		}
		fmt.Printf("✓ Problem set to %q\n", app.ProblemTitle)
		return nil
	}
	return fmt.Errorf("unknown signal: %s", args[0])
}

func stdinPiped() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}
