package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aretw0/goop"
	"github.com/aretw0/goop/internal/presentation/tui"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/stream"
)

// ChatOptions configures the interactive chat loop.
type ChatOptions struct {
	// SessionID names the session. Empty generates one.
	SessionID string
	// Fresh deletes the session before starting.
	Fresh bool
	// Yolo auto-approves every action. An existing session switches to
	// auto-approval with the next message.
	Yolo bool
	// Banner prints the goop banner on start.
	Banner bool
	// Styled renders reviews and transcripts with glamour.
	Styled bool
	Input  io.Reader
	Output io.Writer
}

// reviewVerbs are accepted at the review prompt.
var reviewVerbs = []string{"continue", "approve", "update", "edit", "feedback", "comment", "reject", "exit"}

// exitWords end the chat loop at the message prompt.
var exitWords = []string{"exit", "quit"}

// continueCommand re-runs the session from its checkpoint, e.g. after a step limit.
const continueCommand = "/continue"

type chat struct {
	agent  *goop.Agent
	opts   ChatOptions
	in     *bufio.Reader
	out    io.Writer
	render tui.Renderer
	auto   bool
}

// Chat runs a read-eval-print loop against a session until the user exits,
// the input ends or ctx is cancelled. Interruptions are not errors.
func Chat(ctx context.Context, app *App, opts ChatOptions) error {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Banner {
		tui.PrintBanner(opts.Output, goop.Version)
	}

	c := &chat{
		agent:  app.Agent,
		opts:   opts,
		in:     bufio.NewReader(NewInterruptibleReader(opts.Input, ctx.Done())),
		out:    opts.Output,
		render: tui.NewRenderer(opts.Styled),
		auto:   opts.Yolo || app.Config.Agent.AutoApprove,
	}

	if opts.Fresh {
		if err := c.agent.EndSession(ctx, opts.SessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
	}

	err := c.loop(ctx)
	var sig os.Signal
	if sc, ok := ctx.(*SignalContext); ok {
		sig = sc.Signal()
	}
	logCompletion(c.out, opts.SessionID, err, sig)
	return handleExecutionError(err)
}

func (c *chat) loop(ctx context.Context) error {
	id := c.opts.SessionID
	cp, err := c.agent.Inspect(ctx, id)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		printSystemMessage(c.out, "Session '%s' active.", id)
	case err != nil:
		return err
	default:
		printSystemMessage(c.out, "Resuming session '%s' (%s).", id, cp.Status)
	}

	for {
		review, err := c.pending(ctx)
		if err != nil {
			return err
		}
		if review != nil {
			done, err := c.review(ctx, review)
			if done {
				return nil
			}
			if err != nil && isInterrupted(err) {
				return err
			}
			c.report(err)
			continue
		}

		line, err := c.prompt("\n\nUser: ")
		if err != nil {
			return err
		}
		switch {
		case line == "":
			continue
		case slices.Contains(exitWords, strings.ToLower(line)):
			return nil
		case line == continueCommand:
			err = c.play(stream.Fragments(c.agent.Continue(ctx, id)))
		default:
			err = c.send(ctx, line)
		}
		if err != nil && isInterrupted(err) {
			return err
		}
		c.report(err)
	}
}

// report prints a failed run. The session stays at its last checkpoint.
func (c *chat) report(err error) {
	if err == nil {
		return
	}
	printSystemMessage(c.out, "Error: %v", err)
	// An interrupted execution also leaves the session waiting for /continue.
	if errors.Is(err, domain.ErrStepLimitExceeded) || errors.Is(err, domain.ErrBackendUnavailable) ||
		errors.Is(err, domain.ErrInvalidTransition) {
		printSystemMessage(c.out, "Type %s to retry from the last checkpoint.", continueCommand)
	}
}

func (c *chat) pending(ctx context.Context) (*domain.ReviewRequest, error) {
	review, err := c.agent.PendingReview(ctx, c.opts.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	return review, err
}

func (c *chat) send(ctx context.Context, text string) error {
	_, err := c.agent.Inspect(ctx, c.opts.SessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.play(stream.Fragments(c.agent.Start(ctx, c.opts.SessionID, text, goop.SessionOptions{AutoApprove: c.auto})))
	case err != nil:
		return err
	default:
		return c.play(stream.Fragments(c.agent.SendWith(ctx, c.opts.SessionID, text, goop.TurnOptions{AutoApprove: c.auto})))
	}
}

// review asks for a resolution and resumes the session. It reports done when
// the user asked to exit.
func (c *chat) review(ctx context.Context, req *domain.ReviewRequest) (done bool, err error) {
	md, err := c.render(tui.ReviewPrompt(req))
	if err != nil {
		md = tui.ReviewPrompt(req)
	}
	fmt.Fprint(c.out, "\n"+md)

	var verb string
	for !slices.Contains(reviewVerbs, verb) {
		if verb != "" {
			printSystemMessage(c.out, "Please specify whether you want to reject, continue, update, or provide feedback.")
		}
		verb, err = c.prompt("Action (reject, continue, update, feedback): ")
		if err != nil {
			return false, err
		}
		verb = strings.ToLower(verb)
	}
	if verb == "exit" {
		return true, nil
	}

	res := domain.ReviewResolution{Action: domain.ParseReviewAction(verb)}
	if res.Action == domain.ReviewEdit || res.Action == domain.ReviewComment {
		if res.Data, err = c.prompt("Data: "); err != nil {
			return false, err
		}
	}

	// An invalid resolution leaves the checkpoint untouched, so the review is asked again.
	return false, c.play(c.agent.Resume(ctx, c.opts.SessionID, res))
}

// play prints a run's output as it streams.
func (c *chat) play(frags iter.Seq2[string, error]) error {
	for frag, err := range frags {
		if err != nil {
			return err
		}
		fmt.Fprint(c.out, frag)
	}
	return nil
}

func (c *chat) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
