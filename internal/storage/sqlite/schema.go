package sqlite

// Schema creates the catalog tables. All statements are idempotent so
// reopening an existing database is safe.
//
// List and struct columns hold JSON text. The partial unique index on
// softwares.name enforces name uniqueness among active entities only;
// dereferenced entities keep their name without blocking reuse.
const Schema = `
CREATE TABLE IF NOT EXISTS softwares (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    name              TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    license           TEXT NOT NULL DEFAULT '',
    logo_url          TEXT NOT NULL DEFAULT '',
    keywords          TEXT NOT NULL DEFAULT '[]',
    software_type     TEXT NOT NULL DEFAULT '{}',
    custom_attributes TEXT NOT NULL DEFAULT '{}',
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL,
    dereferencing     TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_softwares_active_name
    ON softwares(name) WHERE dereferencing IS NULL;

CREATE TABLE IF NOT EXISTS external_records (
    source_slug           TEXT NOT NULL,
    external_id           TEXT NOT NULL,
    software_id           INTEGER REFERENCES softwares(id),
    label                 TEXT NOT NULL DEFAULT '',
    description           TEXT NOT NULL DEFAULT '',
    developers            TEXT NOT NULL DEFAULT '[]',
    website_url           TEXT NOT NULL DEFAULT '',
    source_url            TEXT NOT NULL DEFAULT '',
    documentation_url     TEXT NOT NULL DEFAULT '',
    license               TEXT NOT NULL DEFAULT '',
    version               TEXT NOT NULL DEFAULT '',
    publication_time      TEXT,
    keywords              TEXT NOT NULL DEFAULT '[]',
    categories            TEXT NOT NULL DEFAULT '[]',
    programming_languages TEXT NOT NULL DEFAULT '[]',
    identifiers           TEXT NOT NULL DEFAULT '[]',
    is_libre              INTEGER,
    last_fetch_at         TEXT,
    PRIMARY KEY (source_slug, external_id)
);

CREATE INDEX IF NOT EXISTS idx_external_records_software_id
    ON external_records(software_id);

CREATE TABLE IF NOT EXISTS similarity_links (
    software_id INTEGER NOT NULL REFERENCES softwares(id) ON DELETE CASCADE,
    source_slug TEXT NOT NULL,
    external_id TEXT NOT NULL,
    PRIMARY KEY (software_id, source_slug, external_id),
    FOREIGN KEY (source_slug, external_id)
        REFERENCES external_records(source_slug, external_id)
);
`
