// Command wsautobahn drives this module's client against the Autobahn
// Testsuite fuzzing server, echoing every case back exactly as
// received so the suite can judge frame-level conformance.
//
// Run the fuzzing server separately (e.g. via the crossbario/autobahn-
// testsuite Docker image) before invoking this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/coregx/wsbase"
)

const (
	baseURL = "ws://127.0.0.1:9001"
	agent   = "wsbase"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := context.Background()

	n := getCaseCount(ctx, log)
	log.Info().Int("count", n).Msg("running autobahn cases")

	for i := 1; i <= n; i++ {
		runCase(ctx, log, i)
	}
	updateReports(ctx, log)
}

func dial(ctx context.Context, log zerolog.Logger, url string) (*websocket.Connection, error) {
	return websocket.Dial(ctx, url, &websocket.DialOptions{
		ConnectionOptions: &websocket.Options{Logger: log, MaxMessageSize: 64 << 20},
	})
}

func getCaseCount(ctx context.Context, log zerolog.Logger) int {
	conn, err := dial(ctx, log, baseURL+"/getCaseCount")
	if err != nil {
		log.Fatal().Err(err).Msg("dial getCaseCount failed")
	}
	msg, err := conn.Recv()
	if err != nil {
		log.Fatal().Err(err).Msg("reading case count failed")
	}
	n, err := strconv.Atoi(string(msg.Payload))
	if err != nil {
		log.Fatal().Err(err).Str("payload", string(msg.Payload)).Msg("invalid case count")
	}
	return n
}

func updateReports(ctx context.Context, log zerolog.Logger) {
	url := fmt.Sprintf("%s/updateReports?agent=%s", baseURL, agent)
	conn, err := dial(ctx, log, url)
	if err != nil {
		log.Fatal().Err(err).Msg("dial updateReports failed")
	}
	_ = conn.Close(websocket.CloseNormalClosure, "")
}

// runCase echoes every message the fuzzing server sends for test case
// i back verbatim, until the server closes the connection.
func runCase(ctx context.Context, log zerolog.Logger, i int) {
	l := log.With().Int("case", i).Logger()
	url := fmt.Sprintf("%s/runCase?case=%d&agent=%s", baseURL, i, agent)
	conn, err := dial(ctx, l, url)
	if err != nil {
		l.Error().Err(err).Msg("dial failed")
		return
	}

	for {
		msg, err := conn.Recv()
		if err != nil {
			l.Debug().Err(err).Msg("case finished")
			return
		}
		if err := conn.Send(msg.OpCode, msg.Payload); err != nil {
			l.Error().Err(err).Msg("echo failed")
			return
		}
	}
}
