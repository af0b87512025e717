// Command gigchat is a terminal chat client for one conversation. Lines are
// sent optimistically and shown as pending until the server echo reconciles
// them.
//
//	gigchat --server http://localhost:8082 --token $JWT --user u1 --conversation 42
//
// Commands: /cancel <temp_id>, /read, /log, /quit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexgig/lexgig-backend/internal/reconciler"
	"github.com/lexgig/lexgig-backend/pkg/client"
	pkglogger "github.com/lexgig/lexgig-backend/pkg/logger"
	flag "github.com/spf13/pflag"
)

func main() {
	server := flag.StringP("server", "s", "http://localhost:8082", "server base URL")
	token := flag.StringP("token", "t", os.Getenv("LEXGIG_TOKEN"), "bearer JWT (default $LEXGIG_TOKEN)")
	user := flag.StringP("user", "u", "", "local user id (JWT subject)")
	conversationID := flag.Uint64P("conversation", "c", 0, "conversation id")
	gigID := flag.Uint64("gig", 0, "open the conversation about this gig instead of --conversation")
	seller := flag.String("seller", "", "seller to message, with --gig")
	sendTimeout := flag.Duration("send-timeout", 10*time.Second, "per-send timeout before rollback")
	flag.Parse()

	pkglogger.InitStructured("local")
	log := pkglogger.Component("gigchat")

	if *user == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "--user and --token are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := client.New(client.Config{BaseURL: *server, Token: *token})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid client config")
	}

	convID := *conversationID
	if *gigID != 0 {
		conv, err := api.OpenConversation(ctx, *gigID, *seller)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open conversation")
		}
		convID = conv.ID
	}
	if convID == 0 {
		log.Fatal().Msg("--conversation or --gig is required")
	}

	rec, err := reconciler.New(reconciler.Options{
		LocalUser:   *user,
		Sender:      api,
		MarkReader:  api,
		History:     api,
		SendTimeout: *sendTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create reconciler")
	}
	defer rec.Close()

	rec.OnMessageReceived(func(ev reconciler.Event) {
		fmt.Printf("\r%s  %s: %s\n> ", ev.Message.CreatedAt.Local().Format("15:04:05"), ev.Message.SenderID, ev.Message.Content)
	})
	rec.OnMessageReconciled(func(ev reconciler.Event) {
		fmt.Printf("\r  ✓ %s delivered as %s\n> ", ev.TempID, ev.Message.ID)
	})
	rec.OnSendFailed(func(ev reconciler.Event) {
		fmt.Printf("\r  ✗ %s not sent: %v\n> ", ev.TempID, ev.Err)
	})

	stream, err := api.OpenStream(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stream")
	}
	defer stream.Close()
	if err := stream.Join(convID); err != nil {
		log.Fatal().Err(err).Msg("failed to join conversation")
	}
	go func() {
		if err := rec.Attach(ctx, stream.Messages()); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("event stream stopped")
		}
	}()
	go stream.Resync(ctx, rec)

	n, err := rec.Load(ctx, convID)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable")
	}
	printLog(ctx, rec, convID)
	log.Info().Uint64("conversation_id", convID).Int("history", n).Msg("joined")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, rec, convID, strings.TrimSpace(line)); quit {
				return
			}
			fmt.Print("> ")
		}
	}
}

// handleLine runs a command or sends the line; it reports whether to quit
func handleLine(ctx context.Context, rec *reconciler.Reconciler, convID uint64, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/read":
		if err := rec.MarkRead(ctx, convID); err != nil {
			fmt.Printf("mark read failed: %v\n", err)
		}
	case line == "/log":
		printLog(ctx, rec, convID)
	case strings.HasPrefix(line, "/cancel "):
		tempID := strings.TrimSpace(strings.TrimPrefix(line, "/cancel "))
		if err := rec.Cancel(ctx, convID, tempID); err != nil {
			fmt.Printf("cancel failed: %v\n", err)
		}
	default:
		ps, err := rec.Send(ctx, convID, line)
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
			return false
		}
		fmt.Printf("  … %s pending\n", ps.TempID)
	}
	return false
}

func printLog(ctx context.Context, rec *reconciler.Reconciler, convID uint64) {
	entries, err := rec.Snapshot(ctx, convID)
	if err != nil {
		fmt.Printf("log unavailable: %v\n", err)
		return
	}
	for _, m := range entries {
		marker := " "
		if m.Pending {
			marker = "…"
		}
		fmt.Printf("%s %s  %s: %s\n", marker, m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.Content)
	}
}
