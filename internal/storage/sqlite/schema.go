package sqlite

// schemaVersion is the version the schema constant below produces. Opening
// an older database runs the forward-only migrations in migrations.go.
const schemaVersion = 2

const schema = `
-- Environments, keyed by canonical base URL
CREATE TABLE IF NOT EXISTS environments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    base_url TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_sync_at DATETIME
);

-- Global version registry: one row per distinct module fingerprint.
-- Environments with the same modules_hash share the row and its metadata.
CREATE TABLE IF NOT EXISTS global_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version_hash TEXT NOT NULL,
    modules_hash TEXT NOT NULL UNIQUE,
    application_version TEXT NOT NULL DEFAULT '',
    platform_version TEXT NOT NULL DEFAULT '',
    first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_used_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reference_count INTEGER NOT NULL DEFAULT 0,
    created_by_environment_id INTEGER,
    module_count INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (created_by_environment_id) REFERENCES environments(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_global_versions_hash ON global_versions(version_hash);

-- Sample modules kept per version for diagnostics. Capped at insert time;
-- the hash is canonical for equality.
CREATE TABLE IF NOT EXISTS global_version_modules (
    global_version_id INTEGER NOT NULL,
    module_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL,
    publisher TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (global_version_id, module_id),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

-- Environment/version links. At most one active row per environment,
-- enforced by the partial unique index below.
CREATE TABLE IF NOT EXISTS environment_versions (
    environment_id INTEGER NOT NULL,
    global_version_id INTEGER NOT NULL,
    detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_active INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    last_sync_duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (environment_id, global_version_id),
    FOREIGN KEY (environment_id) REFERENCES environments(id) ON DELETE CASCADE,
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_environment_versions_active
    ON environment_versions(environment_id) WHERE is_active = 1;

-- Data entities: the collection-level metadata feed rows
CREATE TABLE IF NOT EXISTS data_entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    global_version_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    public_entity_name TEXT NOT NULL DEFAULT '',
    public_collection_name TEXT NOT NULL DEFAULT '',
    label_id TEXT NOT NULL DEFAULT '',
    label_text TEXT NOT NULL DEFAULT '',
    data_service_enabled INTEGER NOT NULL DEFAULT 0,
    data_management_enabled INTEGER NOT NULL DEFAULT 0,
    entity_category TEXT NOT NULL DEFAULT '',
    is_read_only INTEGER NOT NULL DEFAULT 0,
    UNIQUE (global_version_id, name),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_data_entities_version_name ON data_entities(global_version_id, name);
CREATE INDEX IF NOT EXISTS idx_data_entities_category ON data_entities(global_version_id, entity_category);

-- Public entities: the structural shape (properties, navigations, actions)
CREATE TABLE IF NOT EXISTS public_entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    global_version_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    entity_set_name TEXT NOT NULL DEFAULT '',
    label_id TEXT NOT NULL DEFAULT '',
    is_read_only INTEGER NOT NULL DEFAULT 0,
    configuration_enabled INTEGER NOT NULL DEFAULT 1,
    UNIQUE (global_version_id, name),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_public_entities_version_name ON public_entities(global_version_id, name);
CREATE INDEX IF NOT EXISTS idx_public_entities_entity_set ON public_entities(global_version_id, entity_set_name);

CREATE TABLE IF NOT EXISTS entity_properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    public_entity_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type_name TEXT NOT NULL DEFAULT '',
    data_type TEXT NOT NULL DEFAULT '',
    odata_xpp_type TEXT NOT NULL DEFAULT '',
    label_id TEXT NOT NULL DEFAULT '',
    is_key INTEGER NOT NULL DEFAULT 0,
    is_mandatory INTEGER NOT NULL DEFAULT 0,
    configuration_enabled INTEGER NOT NULL DEFAULT 1,
    allow_edit INTEGER NOT NULL DEFAULT 1,
    allow_edit_on_create INTEGER NOT NULL DEFAULT 1,
    is_dimension INTEGER NOT NULL DEFAULT 0,
    dimension_relation TEXT NOT NULL DEFAULT '',
    is_dynamic_field_property INTEGER NOT NULL DEFAULT 0,
    group_name TEXT NOT NULL DEFAULT '',
    property_order INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (public_entity_id) REFERENCES public_entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entity_properties_entity ON entity_properties(public_entity_id);

CREATE TABLE IF NOT EXISTS navigation_properties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    public_entity_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    related_entity TEXT NOT NULL DEFAULT '',
    related_relation_name TEXT NOT NULL DEFAULT '',
    cardinality TEXT NOT NULL DEFAULT 'Single',
    FOREIGN KEY (public_entity_id) REFERENCES public_entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_navigation_properties_entity ON navigation_properties(public_entity_id);

CREATE TABLE IF NOT EXISTS relation_constraints (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    navigation_property_id INTEGER NOT NULL,
    constraint_type TEXT NOT NULL,
    property TEXT NOT NULL DEFAULT '',
    referenced_property TEXT NOT NULL DEFAULT '',
    related_property TEXT NOT NULL DEFAULT '',
    value INTEGER,
    value_str TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (navigation_property_id) REFERENCES navigation_properties(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_relation_constraints_nav ON relation_constraints(navigation_property_id);

-- Property display groups
CREATE TABLE IF NOT EXISTS property_groups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    public_entity_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (public_entity_id) REFERENCES public_entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_property_groups_entity ON property_groups(public_entity_id);

-- Actions, both bound and unbound. entity_name is empty for unbound.
CREATE TABLE IF NOT EXISTS entity_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    global_version_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    binding_kind TEXT NOT NULL DEFAULT 'Unbound',
    entity_name TEXT NOT NULL DEFAULT '',
    entity_set_name TEXT NOT NULL DEFAULT '',
    return_type_name TEXT NOT NULL DEFAULT '',
    return_is_collection INTEGER NOT NULL DEFAULT 0,
    field_lookup TEXT NOT NULL DEFAULT '',
    UNIQUE (global_version_id, name, entity_name),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entity_actions_version_name ON entity_actions(global_version_id, name);
CREATE INDEX IF NOT EXISTS idx_entity_actions_entity ON entity_actions(global_version_id, entity_name);

CREATE TABLE IF NOT EXISTS action_parameters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    type_name TEXT NOT NULL DEFAULT '',
    is_collection INTEGER NOT NULL DEFAULT 0,
    parameter_order INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (action_id) REFERENCES entity_actions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_action_parameters_action ON action_parameters(action_id);

-- Enumerations
CREATE TABLE IF NOT EXISTS enumerations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    global_version_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    label_id TEXT NOT NULL DEFAULT '',
    UNIQUE (global_version_id, name),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_enumerations_version_name ON enumerations(global_version_id, name);

CREATE TABLE IF NOT EXISTS enumeration_members (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    enumeration_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    value INTEGER NOT NULL,
    label_id TEXT NOT NULL DEFAULT '',
    configuration_enabled INTEGER NOT NULL DEFAULT 1,
    member_order INTEGER NOT NULL DEFAULT 0,
    UNIQUE (enumeration_id, value),
    FOREIGN KEY (enumeration_id) REFERENCES enumerations(id) ON DELETE CASCADE
);

-- Label cache. expires_at is NULL unless the label cache runs in TTL mode;
-- NULL rows share the global version's lifetime.
CREATE TABLE IF NOT EXISTS labels_cache (
    global_version_id INTEGER NOT NULL,
    label_id TEXT NOT NULL,
    language TEXT NOT NULL,
    label_text TEXT NOT NULL DEFAULT '',
    resolved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME,
    PRIMARY KEY (global_version_id, label_id, language),
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

-- Sync sessions, kept as history
CREATE TABLE IF NOT EXISTS sync_sessions (
    id TEXT PRIMARY KEY,
    environment_id INTEGER NOT NULL,
    global_version_id INTEGER,
    strategy TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    phase TEXT NOT NULL DEFAULT '',
    items_total INTEGER NOT NULL DEFAULT 0,
    items_done INTEGER NOT NULL DEFAULT 0,
    errors_count INTEGER NOT NULL DEFAULT 0,
    error_messages TEXT NOT NULL DEFAULT '[]',
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME,
    FOREIGN KEY (environment_id) REFERENCES environments(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sync_sessions_env ON sync_sessions(environment_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sync_sessions_state ON sync_sessions(state);

-- Versions queued for a search index rebuild (set by the FTS shape migration)
CREATE TABLE IF NOT EXISTS fts_rebuild_queue (
    global_version_id INTEGER PRIMARY KEY,
    queued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (global_version_id) REFERENCES global_versions(id) ON DELETE CASCADE
);

-- Schema version bookkeeping
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// ftsSchema creates the content-bearing search table. Kept separate from
// the base schema so the shape migration can drop and recreate it alone.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS metadata_search USING fts5(
    entity_name,
    entity_type,
    entity_set_name,
    description,
    labels,
    properties_text,
    actions_text,
    global_version_id UNINDEXED,
    entity_id UNINDEXED
);
`
