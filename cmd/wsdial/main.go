// Command wsdial connects to a WebSocket server and relays stdin lines
// as text messages, printing every message it receives.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsbase"
)

func main() {
	cmd := &cli.Command{
		Name:      "wsdial",
		Usage:     "connect to a WebSocket server and relay stdin/stdout",
		ArgsUsage: "<ws-url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging instead of JSON"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsdial: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	url := cmd.Args().First()
	if url == "" {
		return fmt.Errorf("usage: wsdial <ws-url>")
	}

	var log zerolog.Logger
	if cmd.Bool("pretty-log") {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	conn, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		ConnectionOptions: &websocket.Options{Logger: log},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.CloseNormalClosure, "")

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			msg, err := conn.Recv()
			if err != nil {
				return
			}
			fmt.Printf("< %s\n", msg.Payload)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := conn.Send(websocket.OpText, scanner.Bytes()); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}

	_ = conn.Close(websocket.CloseNormalClosure, "")
	<-recvDone
	return nil
}
