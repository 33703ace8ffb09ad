package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"figmamcp/internal/core"
)

const (
	maxMessageBytes   = 16 * 1024 * 1024
	maxInFlightStdio  = 8
	initialLineBuffer = 64 * 1024
)

// ServeStdio reads newline-delimited messages from in and writes responses to out
// until in is exhausted or ctx is canceled. Requests are handled concurrently,
// so responses may be written in a different order than requests arrived.
func (d *Dispatcher) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxMessageBytes)

	var writeMu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(resp *Response) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(resp)
	}

	sessionID := uuid.NewString()
	ctx = core.WithSessionID(ctx, sessionID)
	d.logger.Info("stdio session started", "session_id", sessionID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlightStdio)

	for scanner.Scan() {
		if gctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)

		g.Go(func() error {
			reqCtx := core.WithRequestID(gctx, uuid.NewString())
			resp := d.Handle(reqCtx, msg)
			if resp == nil {
				return nil
			}
			if err := write(resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			return nil
		})
	}

	waitErr := g.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if waitErr != nil {
		return waitErr
	}
	d.logger.Info("stdio session ended", "session_id", sessionID)
	return ctx.Err()
}
