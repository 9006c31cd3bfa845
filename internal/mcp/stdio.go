package mcp

import (
	"bufio"
	"context"
	"io"

	"github.com/dynamicsmcp/fomcp/internal/debug"
)

// maxLineBytes bounds one stdio request.
const maxLineBytes = 10 * 1024 * 1024

// ServeStdio runs the line-delimited stdio transport until the reader is
// exhausted or the context is cancelled. Each input line is one JSON-RPC
// message; each response is written as one line.
func ServeStdio(ctx context.Context, s *Server, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := w.Write(append(resp, '\n')); err != nil {
			debug.Logf("mcp: stdio write: %v", err)
			return err
		}
	}
	return scanner.Err()
}
