package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"golang.org/x/sync/errgroup"

	"github.com/quenra/hublink"
	"github.com/quenra/hublink/hubtest"
)

// The sample wires two Services to one in-memory hub and lets alice and bob
// have a short conversation, including a simulated connection loss.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := log.NewLogfmtLogger(os.Stderr)
	hub := hubtest.NewHub()

	alice, err := newChatService(ctx, hub, "alice", logger)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	bob, err := newChatService(ctx, hub, "bob", logger)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := alice.Start(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := bob.Start(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alice.SendTypingIndicator(ctx, "bob")
		receipt, err := alice.SendMessage(ctx, "bob", "hi bob, are you there?")
		if err != nil {
			return err
		}
		fmt.Printf("alice: message queued: %v\n", receipt.Queued)
		return nil
	})
	g.Go(func() error {
		bob.SendTypingIndicator(ctx, "alice")
		_, err := bob.SendMessage(ctx, "alice", "hi alice, loud and clear")
		return err
	})
	if err := g.Wait(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// a network blip: bob's transport reconnects on its own
	hub.Interrupt("bob", fmt.Errorf("simulated network blip"))
	if err := <-hublink.WaitForState(ctx, bob, hublink.StateConnected); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if _, err := bob.SendMessage(ctx, "alice", "still here after the blip"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	alice.Stop(ctx)
	bob.Stop(ctx)
}

func newChatService(ctx context.Context, hub *hubtest.Hub, user string, logger log.Logger) (hublink.Service, error) {
	svc, err := hublink.New(ctx, "https://hub.example.com/chat", hub.Register(user),
		hublink.Logger(log.WithPrefix(logger, "user", user), false),
		hublink.WithTokenProvider(func(ctx context.Context) (string, error) {
			return "demo-token-" + user, nil
		}),
	)
	if err != nil {
		return nil, err
	}
	svc.OnMessage(func(message hublink.Message) {
		fmt.Printf("%v: %v\n", message.Sender, message.Content)
	})
	svc.OnTypingSignal(func(signal hublink.TypingSignal) {
		fmt.Printf("%v is typing...\n", signal.Sender)
	})
	svc.OnConnectionStatus(func(status hublink.ConnectionStatus) {
		fmt.Printf("%v is %v\n", user, status.State)
	})
	return svc, nil
}
