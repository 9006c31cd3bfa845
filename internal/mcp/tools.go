package mcp

import (
	"context"
	"encoding/json"

	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/profile"
	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

func registerSearchTools(s *Server, c *core.Core) {
	s.registerTool(Tool{
		Name:        "d365fo_search_entities",
		Description: "Search entities, enumerations, and actions in the synced metadata of the active environment.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search text; matched against names and descriptions"},
				"entity_types": {"type": "array", "items": {"type": "string", "enum": ["data_entity", "public_entity", "enumeration", "action", "label"]}},
				"limit": {"type": "integer", "description": "Max results, default 20"},
				"use_fulltext": {"type": "boolean", "description": "Use the FTS index, default true"}
			},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Query       string   `json:"query"`
			EntityTypes []string `json:"entity_types"`
			Limit       int      `json:"limit"`
			UseFulltext *bool    `json:"use_fulltext"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		query := &types.SearchQuery{
			Text:        in.Query,
			Limit:       in.Limit,
			UseFullText: in.UseFulltext == nil || *in.UseFulltext,
		}
		for _, t := range in.EntityTypes {
			query.EntityTypes = append(query.EntityTypes, types.SearchEntityType(t))
		}
		results, err := c.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results, "count": len(results)}, nil
	})
}

func registerSchemaTools(s *Server, c *core.Core) {
	s.registerTool(Tool{
		Name:        "d365fo_get_entity_schema",
		Description: "Get one entity by name: the data entity summary or the full public schema with properties, navigation properties, and actions.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"kind": {"type": "string", "enum": ["data", "public"], "description": "Default public"},
				"resolve_labels": {"type": "boolean", "description": "Replace label ids with display text"},
				"language": {"type": "string", "description": "Label language, default from config"}
			},
			"required": ["name"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Name          string `json:"name"`
			Kind          string `json:"kind"`
			ResolveLabels bool   `json:"resolve_labels"`
			Language      string `json:"language"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		kind := types.KindPublic
		if in.Kind == "data" {
			kind = types.KindData
		}
		entity, err := c.GetEntity(ctx, in.Name, kind)
		if err != nil {
			return nil, err
		}
		if in.ResolveLabels {
			if err := c.ResolveLabels(ctx, in.Language, entity); err != nil {
				return nil, err
			}
		}
		return entity, nil
	})

	s.registerTool(Tool{
		Name:        "d365fo_get_enum",
		Description: "Get one enumeration with its members and values.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"resolve_labels": {"type": "boolean"},
				"language": {"type": "string"}
			},
			"required": ["name"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Name          string `json:"name"`
			ResolveLabels bool   `json:"resolve_labels"`
			Language      string `json:"language"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		enum, err := c.GetEnumeration(ctx, in.Name)
		if err != nil {
			return nil, err
		}
		if in.ResolveLabels {
			if err := c.ResolveLabels(ctx, in.Language, enum); err != nil {
				return nil, err
			}
		}
		return enum, nil
	})

	s.registerTool(Tool{
		Name:        "d365fo_list_actions",
		Description: "List OData actions, optionally filtered by entity or name pattern.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entity": {"type": "string", "description": "Restrict to actions bound to this entity"},
				"pattern": {"type": "string", "description": "Substring match on the action name"},
				"limit": {"type": "integer"},
				"offset": {"type": "integer"}
			}
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Entity  string `json:"entity"`
			Pattern string `json:"pattern"`
			Limit   int    `json:"limit"`
			Offset  int    `json:"offset"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return c.GetActions(ctx, storage.ActionFilter{
			EntityName:  in.Entity,
			NamePattern: in.Pattern,
		}, in.Limit, in.Offset)
	})

	s.registerTool(Tool{
		Name:        "d365fo_get_environment_info",
		Description: "Get the active environment: version fingerprint, sync status, and metadata row counts.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return c.GetEnvironmentInfo(ctx)
	})
}

func registerLabelTools(s *Server, c *core.Core) {
	s.registerTool(Tool{
		Name:        "d365fo_get_labels",
		Description: "Resolve label ids (e.g. @SYS12345) to display text. Missing labels are omitted from the result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"ids": {"type": "array", "items": {"type": "string"}},
				"language": {"type": "string", "description": "Default from config"}
			},
			"required": ["ids"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			IDs      []string `json:"ids"`
			Language string   `json:"language"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		labels, err := c.GetLabelsBatch(ctx, in.IDs, in.Language)
		if err != nil {
			return nil, err
		}
		return map[string]any{"labels": labels}, nil
	})
}

func registerSyncTools(s *Server, c *core.Core) {
	s.registerTool(Tool{
		Name:        "d365fo_start_sync",
		Description: "Start a metadata sync session. Empty strategy selects one automatically after version detection.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"strategy": {"type": "string", "enum": ["", "full", "full_without_labels", "entities_only", "labels_only", "sharing_mode", "incremental"]}
			}
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Strategy string `json:"strategy"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return c.StartSync(ctx, types.SyncStrategy(in.Strategy))
	})

	s.registerTool(Tool{
		Name:        "d365fo_get_sync_progress",
		Description: "Get the state, phase, and item counts of a sync session.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"session_id": {"type": "string"}},
			"required": ["session_id"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return c.GetSyncProgress(ctx, in.SessionID)
	})

	s.registerTool(Tool{
		Name:        "d365fo_cancel_sync",
		Description: "Request cancellation of a running sync session. Terminal sessions are refused.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"session_id": {"type": "string"}},
			"required": ["session_id"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var in struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if err := c.CancelSync(ctx, in.SessionID); err != nil {
			return nil, err
		}
		return c.GetSyncProgress(ctx, in.SessionID)
	})
}

func registerProfileTools(s *Server, profiles *profile.Registry) {
	s.registerTool(Tool{
		Name:        "d365fo_list_profiles",
		Description: "List configured environment profiles. Secrets are never returned.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		type entry struct {
			Name    string `json:"name"`
			BaseURL string `json:"base_url"`
			Default bool   `json:"default"`
		}
		out := struct {
			Profiles []entry `json:"profiles"`
		}{Profiles: []entry{}}
		if profiles == nil {
			return out, nil
		}
		def := profiles.DefaultName()
		for _, name := range profiles.Names() {
			cfg, err := profiles.Get(name)
			if err != nil {
				continue
			}
			out.Profiles = append(out.Profiles, entry{
				Name:    name,
				BaseURL: cfg.BaseURL,
				Default: name == def,
			})
		}
		return out, nil
	})
}
