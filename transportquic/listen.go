package transportquic

import (
	"context"
	"time"

	quic "github.com/quic-go/quic-go"
)

// Serve accepts QUIC connections at local and, for each one, accepts its
// first bidirectional stream and hands the resulting Channel to onChannel.
// Accept necessarily blocks, so Serve runs its loop in a background
// goroutine and returns immediately, the same accept-loop-with-backoff
// shape hub.BindStream uses for a plain TCP listener (itself grounded on
// internal/runtime/netstack/tcp.go's TCPServer.Start).
func Serve(ctx context.Context, addr string, opts Options, onChannel func(*Channel)) error {
	resolved, err := opts.resolved()
	if err != nil {
		return err
	}

	ln, err := quic.ListenAddr(addr, resolved.TLSConfig, resolved.QUICConfig)
	if err != nil {
		return err
	}

	go acceptLoop(ctx, ln, onChannel)

	return nil
}

func acceptLoop(ctx context.Context, ln *quic.Listener, onChannel func(*Channel)) {
	defer ln.Close()

	var backoff time.Duration

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
				if backoff > 500*time.Millisecond {
					backoff = 500 * time.Millisecond
				}
			}

			time.Sleep(backoff)

			continue
		}

		backoff = 0

		go acceptStream(ctx, conn, onChannel)
	}
}

func acceptStream(ctx context.Context, conn quic.Connection, onChannel func(*Channel)) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream accept failed")
		return
	}

	onChannel(NewChannel(conn, stream))
}
