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
	"time"

	"github.com/spf13/cobra"

	"github.com/usebrk/beka-widget/internal/logger"
	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/widget"
)

type chatOptions struct {
	ServerURL    string
	ContactID    int64
	Transport    string
	PollInterval time.Duration
	LogLevel     string
}

// lockedWriter serializes writes from the send loop and the transport
// goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat --server <url> [--contact-id <id>] [--transport live|poll|none]",
		Short: "Chat with a running server from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.ServerURL) == "" {
				return errors.New("--server is required")
			}
			switch opts.Transport {
			case "live", "poll", "none":
			default:
				return fmt.Errorf("unknown --transport %q", opts.Transport)
			}
			if opts.Transport != "none" && opts.ContactID <= 0 {
				return errors.New("--contact-id is required to receive agent messages")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.ServerURL, "server", "http://localhost:8080", "widget server base URL")
	cmd.Flags().Int64Var(&opts.ContactID, "contact-id", 0, "support platform contact id")
	cmd.Flags().StringVar(&opts.Transport, "transport", "live", "agent message transport: live, poll or none")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", widget.DefaultPollInterval, "pull channel interval")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "client log level")
	return cmd
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, w io.Writer) error {
	out := &lockedWriter{w: w}
	cfg := widget.Config{
		BaseURL:   opts.ServerURL,
		ContactID: opts.ContactID,
		Logger:    logger.New(os.Stderr, opts.LogLevel, "text"),
	}
	timeline := widget.NewTimeline(func(e widget.Entry) {
		if e.Role != widget.RoleUser {
			fmt.Fprint(out, renderEntry(e))
		}
	})
	session := widget.NewSession(cfg, timeline)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	transportDone := make(chan error, 1)
	switch opts.Transport {
	case "live":
		live := widget.NewLiveClient(cfg, widget.DefaultReconnectDelay, func(s widget.ConnState) {
			if s == widget.StateDisconnected {
				fmt.Fprintln(out, "* conexão perdida, reconectando...")
			}
		})
		go func() { transportDone <- live.Run(ctx, timeline.AddAgent) }()
	case "poll":
		poller := widget.NewPoller(cfg, opts.PollInterval)
		go func() { transportDone <- poller.Run(ctx, timeline.AddAgent) }()
	default:
		transportDone <- nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return waitTransport(transportDone)
		case line, ok := <-lines:
			if !ok {
				cancel()
				return waitTransport(transportDone)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := session.Send(ctx, line); err != nil && !errors.Is(err, widget.ErrSendFailed) {
				return err
			}
		}
	}
}

func waitTransport(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return nil
	}
}

func renderEntry(e widget.Entry) string {
	var b strings.Builder
	who := "Beka"
	if e.Role == widget.RoleAgent {
		who = e.Message.SenderName
		if who == "" {
			who = "Agente"
		}
	}
	switch e.Message.Content.Kind {
	case message.KindProducts:
		fmt.Fprintf(&b, "%s:\n", who)
		for _, p := range e.Message.Content.Products {
			fmt.Fprintf(&b, "  - %s", p.Title)
			if p.Price != "" {
				fmt.Fprintf(&b, " (%s)", p.Price)
			}
			if p.Link != "" {
				fmt.Fprintf(&b, " %s", p.Link)
			}
			b.WriteString("\n")
		}
	default:
		fmt.Fprintf(&b, "%s: %s\n", who, e.Message.Content.Text)
	}
	for _, label := range e.Message.ButtonLabels {
		fmt.Fprintf(&b, "  [%s]", label)
	}
	if len(e.Message.ButtonLabels) > 0 {
		b.WriteString("\n")
	}
	return b.String()
}
