// Command wsecho runs a WebSocket echo server, registering every
// accepted connection with a Hub, which applies the admission-rate
// limit and closes the connections on shutdown. It serves only the
// upgrade endpoint and never sends a Hub broadcast.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/coregx/wsbase"
)

func main() {
	cmd := &cli.Command{
		Name:   "wsecho",
		Usage:  "WebSocket echo server",
		Flags:  flags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
		&cli.StringFlag{Name: "path", Value: "/ws", Usage: "upgrade endpoint path"},
		&cli.BoolFlag{Name: "pretty-log", Usage: "human-readable console logging instead of JSON"},
		&cli.IntFlag{Name: "admission-rate", Value: 0, Usage: "max connections admitted per second (0 = unlimited)"},
		&cli.IntFlag{Name: "max-message-size", Value: 32 << 20, Usage: "maximum reassembled message size in bytes"},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("pretty-log"))

	hubOpts := &websocket.HubOptions{Logger: log}
	if rl := cmd.Int("admission-rate"); rl > 0 {
		hubOpts.AdmissionLimit = rate.Limit(rl)
		hubOpts.AdmissionBurst = int(rl)
	}
	hub := websocket.NewHub(hubOpts)

	g, gctx := websocket.RunWithContext(ctx, hub)

	maxSize := int(cmd.Int("max-message-size"))
	mux := http.NewServeMux()
	mux.HandleFunc(cmd.String("path"), func(w http.ResponseWriter, r *http.Request) {
		handleUpgrade(gctx, w, r, hub, log, maxSize)
	})

	server := &http.Server{Addr: cmd.String("addr"), Handler: mux}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("path", cmd.String("path")).Msg("wsecho listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, hub *websocket.Hub, log zerolog.Logger, maxSize int) {
	conn, err := websocket.Upgrade(w, r, &websocket.UpgradeOptions{
		CheckOrigin:       websocket.CheckSameOrigin,
		ConnectionOptions: &websocket.Options{Logger: log, MaxMessageSize: maxSize},
	})
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client, err := hub.Admit(ctx, conn)
	if err != nil {
		log.Warn().Err(err).Msg("admission denied")
		_ = conn.Close(websocket.ClosePolicyViolation, "admission denied")
		return
	}
	defer hub.Unregister(client)

	log.Info().Str("client", client.ID).Str("remote", r.RemoteAddr).Msg("client connected")
	for {
		msg, err := client.Recv()
		if err != nil {
			log.Info().Str("client", client.ID).Err(err).Msg("client disconnected")
			return
		}
		if err := client.Send(msg.OpCode, msg.Payload); err != nil {
			log.Warn().Str("client", client.ID).Err(err).Msg("echo write failed")
			return
		}
	}
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
