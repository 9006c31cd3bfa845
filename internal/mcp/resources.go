package mcp

import (
	"context"

	"github.com/dynamicsmcp/fomcp/internal/core"
)

func registerResources(s *Server, c *core.Core) {
	s.registerResource(Resource{
		URI:         "d365fo://environment",
		Name:        "Environment",
		Description: "Active environment, version fingerprint, and metadata counts",
		MimeType:    "application/json",
	}, func(ctx context.Context) (any, error) {
		return c.GetEnvironmentInfo(ctx)
	})

	s.registerResource(Resource{
		URI:         "d365fo://sync/sessions",
		Name:        "Sync sessions",
		Description: "Sync session history for the active environment, newest first",
		MimeType:    "application/json",
	}, func(ctx context.Context) (any, error) {
		return c.ListSyncSessions(ctx, "")
	})
}
