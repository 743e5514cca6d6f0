// Package sqlite implements the storage interfaces on a single SQLite
// database file (or :memory:). It is the default persistent store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/utc"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// timeLayout is fixed-width so stored timestamps compare correctly as
// text in SQL. All times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at dsn and applies
// the schema. Use ":memory:" for an ephemeral database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapIO("open", dsn, err)
	}

	// SQLite supports one writer at a time. A single connection
	// serialises writes so concurrent refresh workers wait on the pool
	// instead of hitting SQLITE_BUSY. WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.WrapIO("configure", dsn, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.WrapIO("migrate", dsn, err)
	}

	return &Store{db: db}, nil
}

// ExternalRecords returns the external record store.
func (s *Store) ExternalRecords() storage.ExternalRecordStore {
	return records{db: s.db}
}

// Software returns the canonical entity store.
func (s *Store) Software() storage.SoftwareStore {
	return softwares{db: s.db}
}

// Similarities returns the similarity link store.
func (s *Store) Similarities() storage.SimilarityStore {
	return similarities{db: s.db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `source_slug, external_id, software_id, label, description,
	developers, website_url, source_url, documentation_url, license, version,
	publication_time, keywords, categories, programming_languages, identifiers,
	is_libre, last_fetch_at`

type records struct {
	db *sql.DB
}

func (r records) Upsert(ctx context.Context, record *catalog.ExternalRecord) error {
	if record.SourceSlug == "" || record.ExternalID == "" {
		return errors.NewValidationError("key", record.Key(), "record key must be complete")
	}

	developers, err := encodeJSON(record.Developers)
	if err != nil {
		return errors.WrapParse("json", "developers", err)
	}
	keywords, err := encodeJSON(record.Keywords)
	if err != nil {
		return errors.WrapParse("json", "keywords", err)
	}
	categories, err := encodeJSON(record.Categories)
	if err != nil {
		return errors.WrapParse("json", "categories", err)
	}
	languages, err := encodeJSON(record.ProgrammingLanguages)
	if err != nil {
		return errors.WrapParse("json", "programming_languages", err)
	}
	identifiers, err := encodeJSON(record.Identifiers)
	if err != nil {
		return errors.WrapParse("json", "identifiers", err)
	}

	// COALESCE keeps an existing linkage when the incoming record
	// carries none, so data refreshes never detach records.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO external_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_slug, external_id) DO UPDATE SET
			software_id           = COALESCE(excluded.software_id, external_records.software_id),
			label                 = excluded.label,
			description           = excluded.description,
			developers            = excluded.developers,
			website_url           = excluded.website_url,
			source_url            = excluded.source_url,
			documentation_url     = excluded.documentation_url,
			license               = excluded.license,
			version               = excluded.version,
			publication_time      = excluded.publication_time,
			keywords              = excluded.keywords,
			categories            = excluded.categories,
			programming_languages = excluded.programming_languages,
			identifiers           = excluded.identifiers,
			is_libre              = excluded.is_libre,
			last_fetch_at         = excluded.last_fetch_at`,
		record.SourceSlug, record.ExternalID, encodeID(record.SoftwareID),
		record.Label, record.Description, developers,
		record.WebsiteURL, record.SourceURL, record.DocumentationURL,
		record.License, record.Version, encodeTime(record.PublicationTime),
		keywords, categories, languages, identifiers,
		encodeBool(record.IsLibre), encodeTime(record.LastFetchAt),
	)
	if err != nil {
		return errors.WrapResource("upsert", "external record", record.SourceSlug+"/"+record.ExternalID, err)
	}
	return nil
}

func (r records) Get(ctx context.Context, key catalog.RecordKey) (*catalog.ExternalRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM external_records
		WHERE source_slug = ? AND external_id = ?`,
		key.SourceSlug, key.ExternalID)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "external record", key.SourceSlug+"/"+key.ExternalID, err)
	}
	return record, nil
}

func (r records) BySoftware(ctx context.Context, softwareID int64) ([]catalog.ExternalRecord, error) {
	return r.query(ctx, `
		SELECT `+recordColumns+` FROM external_records
		WHERE software_id = ?
		ORDER BY source_slug, external_id`, softwareID)
}

func (r records) Keys(ctx context.Context) ([]catalog.RecordKey, error) {
	return r.queryKeys(ctx, `
		SELECT source_slug, external_id FROM external_records
		ORDER BY source_slug, external_id`)
}

func (r records) StaleKeys(ctx context.Context, cutoff time.Time) ([]catalog.RecordKey, error) {
	return r.queryKeys(ctx, `
		SELECT source_slug, external_id FROM external_records
		WHERE last_fetch_at IS NULL OR last_fetch_at < ?
		ORDER BY source_slug, external_id`,
		cutoff.UTC().Format(timeLayout))
}

func (r records) Link(ctx context.Context, key catalog.RecordKey, softwareID int64) error {
	return r.update(ctx, key, "link", `
		UPDATE external_records SET software_id = ?
		WHERE source_slug = ? AND external_id = ?`,
		softwareID, key.SourceSlug, key.ExternalID)
}

func (r records) Unlink(ctx context.Context, key catalog.RecordKey) error {
	return r.update(ctx, key, "unlink", `
		UPDATE external_records SET software_id = NULL
		WHERE source_slug = ? AND external_id = ?`,
		key.SourceSlug, key.ExternalID)
}

func (r records) Touch(ctx context.Context, key catalog.RecordKey, at utc.Time) error {
	return r.update(ctx, key, "touch", `
		UPDATE external_records SET last_fetch_at = ?
		WHERE source_slug = ? AND external_id = ?`,
		at.UTC().Format(timeLayout), key.SourceSlug, key.ExternalID)
}

func (r records) WithIdentifierSubject(ctx context.Context, subjectURL, excludeSlug string) ([]catalog.ExternalRecord, error) {
	// instr is a cheap prefilter; the JSON is parsed in Go to confirm
	// an exact subject URL match.
	candidates, err := r.query(ctx, `
		SELECT `+recordColumns+` FROM external_records
		WHERE software_id IS NOT NULL
		  AND source_slug <> ?
		  AND instr(identifiers, ?) > 0
		ORDER BY source_slug, external_id`,
		excludeSlug, subjectURL)
	if err != nil {
		return nil, err
	}

	var out []catalog.ExternalRecord
	for _, rec := range candidates {
		for _, ident := range rec.Identifiers {
			if ident.SubjectURL == subjectURL {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

func (r records) All(ctx context.Context) ([]catalog.ExternalRecord, error) {
	return r.query(ctx, `
		SELECT `+recordColumns+` FROM external_records
		ORDER BY source_slug, external_id`)
}

func (r records) Delete(ctx context.Context, key catalog.RecordKey) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM external_records
		WHERE source_slug = ? AND external_id = ?`,
		key.SourceSlug, key.ExternalID)
	if err != nil {
		return false, errors.WrapResource("delete", "external record", key.SourceSlug+"/"+key.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.WrapResource("delete", "external record", key.SourceSlug+"/"+key.ExternalID, err)
	}
	return n > 0, nil
}

func (r records) query(ctx context.Context, query string, args ...any) ([]catalog.ExternalRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("query", "external records", "", err)
	}
	defer rows.Close()

	var out []catalog.ExternalRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.WrapResource("scan", "external records", "", err)
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("query", "external records", "", err)
	}
	return out, nil
}

func (r records) queryKeys(ctx context.Context, query string, args ...any) ([]catalog.RecordKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapResource("query", "external records", "", err)
	}
	defer rows.Close()

	var out []catalog.RecordKey
	for rows.Next() {
		var key catalog.RecordKey
		if err := rows.Scan(&key.SourceSlug, &key.ExternalID); err != nil {
			return nil, errors.WrapResource("scan", "external records", "", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("query", "external records", "", err)
	}
	return out, nil
}

func (r records) update(ctx context.Context, key catalog.RecordKey, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WrapResource(op, "external record", key.SourceSlug+"/"+key.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapResource(op, "external record", key.SourceSlug+"/"+key.ExternalID, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("external record", key.SourceSlug+"/"+key.ExternalID)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*catalog.ExternalRecord, error) {
	var (
		rec                                                  catalog.ExternalRecord
		softwareID                                           sql.NullInt64
		developers, keywords, categories, langs, identifiers string
		publicationTime, lastFetchAt                         sql.NullString
		isLibre                                              sql.NullBool
	)
	if err := row.Scan(
		&rec.SourceSlug, &rec.ExternalID, &softwareID,
		&rec.Label, &rec.Description, &developers,
		&rec.WebsiteURL, &rec.SourceURL, &rec.DocumentationURL,
		&rec.License, &rec.Version, &publicationTime,
		&keywords, &categories, &langs, &identifiers,
		&isLibre, &lastFetchAt,
	); err != nil {
		return nil, err
	}

	if softwareID.Valid {
		rec.SoftwareID = &softwareID.Int64
	}
	if isLibre.Valid {
		rec.IsLibre = &isLibre.Bool
	}
	var err error
	if rec.PublicationTime, err = decodeTime(publicationTime); err != nil {
		return nil, err
	}
	if rec.LastFetchAt, err = decodeTime(lastFetchAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(developers, &rec.Developers); err != nil {
		return nil, err
	}
	if err := decodeJSON(keywords, &rec.Keywords); err != nil {
		return nil, err
	}
	if err := decodeJSON(categories, &rec.Categories); err != nil {
		return nil, err
	}
	if err := decodeJSON(langs, &rec.ProgrammingLanguages); err != nil {
		return nil, err
	}
	if err := decodeJSON(identifiers, &rec.Identifiers); err != nil {
		return nil, err
	}
	return &rec, nil
}

type softwares struct {
	db *sql.DB
}

func (w softwares) Create(ctx context.Context, software *catalog.Software) (int64, error) {
	if software.Name == "" {
		return 0, errors.NewValidationError("name", software.Name, "software name must not be empty")
	}

	keywords, err := encodeJSON(software.Keywords)
	if err != nil {
		return 0, errors.WrapParse("json", "keywords", err)
	}
	softwareType, err := encodeJSON(software.SoftwareType)
	if err != nil {
		return 0, errors.WrapParse("json", "software_type", err)
	}
	attrs, err := encodeJSON(software.CustomAttributes)
	if err != nil {
		return 0, errors.WrapParse("json", "custom_attributes", err)
	}

	res, err := w.db.ExecContext(ctx, `
		INSERT INTO softwares (name, description, license, logo_url, keywords,
			software_type, custom_attributes, created_at, updated_at, dereferencing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		software.Name, software.Description, software.License, software.LogoURL,
		keywords, softwareType, attrs,
		software.CreatedAt.UTC().Format(timeLayout),
		software.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errors.ErrAlreadyExists
		}
		return 0, errors.WrapResource("create", "software", software.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.WrapResource("create", "software", software.Name, err)
	}
	software.ID = id
	return id, nil
}

const softwareColumns = `id, name, description, license, logo_url, keywords,
	software_type, custom_attributes, created_at, updated_at, dereferencing`

func (w softwares) Get(ctx context.Context, id int64) (*catalog.Software, error) {
	row := w.db.QueryRowContext(ctx, `
		SELECT `+softwareColumns+` FROM softwares WHERE id = ?`, id)

	software, err := scanSoftware(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("software", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, errors.WrapResource("get", "software", strconv.FormatInt(id, 10), err)
	}
	return software, nil
}

func (w softwares) GetByName(ctx context.Context, name string) (*catalog.Software, error) {
	row := w.db.QueryRowContext(ctx, `
		SELECT `+softwareColumns+` FROM softwares
		WHERE name = ? AND dereferencing IS NULL`, name)

	software, err := scanSoftware(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("software", name)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "software", name, err)
	}
	return software, nil
}

func (w softwares) Update(ctx context.Context, software *catalog.Software) error {
	keywords, err := encodeJSON(software.Keywords)
	if err != nil {
		return errors.WrapParse("json", "keywords", err)
	}
	softwareType, err := encodeJSON(software.SoftwareType)
	if err != nil {
		return errors.WrapParse("json", "software_type", err)
	}
	attrs, err := encodeJSON(software.CustomAttributes)
	if err != nil {
		return errors.WrapParse("json", "custom_attributes", err)
	}
	dereferencing, err := encodeNullableJSON(software.Dereferencing)
	if err != nil {
		return errors.WrapParse("json", "dereferencing", err)
	}

	res, err := w.db.ExecContext(ctx, `
		UPDATE softwares SET name = ?, description = ?, license = ?, logo_url = ?,
			keywords = ?, software_type = ?, custom_attributes = ?,
			updated_at = ?, dereferencing = ?
		WHERE id = ?`,
		software.Name, software.Description, software.License, software.LogoURL,
		keywords, softwareType, attrs,
		software.UpdatedAt.UTC().Format(timeLayout), dereferencing,
		software.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrAlreadyExists
		}
		return errors.WrapResource("update", "software", strconv.FormatInt(software.ID, 10), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapResource("update", "software", strconv.FormatInt(software.ID, 10), err)
	}
	if n == 0 {
		return errors.NewNotFoundError("software", strconv.FormatInt(software.ID, 10))
	}
	return nil
}

func (w softwares) List(ctx context.Context, opts storage.ListOptions) ([]catalog.Software, error) {
	query := `SELECT ` + softwareColumns + ` FROM softwares`
	if !opts.IncludeDereferenced {
		query += ` WHERE dereferencing IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapResource("list", "softwares", "", err)
	}
	defer rows.Close()

	var out []catalog.Software
	for rows.Next() {
		software, err := scanSoftware(rows)
		if err != nil {
			return nil, errors.WrapResource("scan", "softwares", "", err)
		}
		out = append(out, *software)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("list", "softwares", "", err)
	}
	return out, nil
}

func (w softwares) Dereference(ctx context.Context, id int64, reason string, at utc.Time) error {
	dereferencing, err := encodeJSON(catalog.Dereferencing{Reason: reason, Time: at})
	if err != nil {
		return errors.WrapParse("json", "dereferencing", err)
	}

	res, err := w.db.ExecContext(ctx, `
		UPDATE softwares SET dereferencing = ?, updated_at = ? WHERE id = ?`,
		dereferencing, at.UTC().Format(timeLayout), id)
	if err != nil {
		return errors.WrapResource("dereference", "software", strconv.FormatInt(id, 10), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapResource("dereference", "software", strconv.FormatInt(id, 10), err)
	}
	if n == 0 {
		return errors.NewNotFoundError("software", strconv.FormatInt(id, 10))
	}
	return nil
}

func scanSoftware(row scanner) (*catalog.Software, error) {
	var (
		software                      catalog.Software
		keywords, softwareType, attrs string
		createdAt, updatedAt          string
		dereferencing                 sql.NullString
	)
	if err := row.Scan(
		&software.ID, &software.Name, &software.Description, &software.License,
		&software.LogoURL, &keywords, &softwareType, &attrs,
		&createdAt, &updatedAt, &dereferencing,
	); err != nil {
		return nil, err
	}

	if err := decodeJSON(keywords, &software.Keywords); err != nil {
		return nil, err
	}
	if err := decodeJSON(softwareType, &software.SoftwareType); err != nil {
		return nil, err
	}
	if err := decodeJSON(attrs, &software.CustomAttributes); err != nil {
		return nil, err
	}
	if dereferencing.Valid {
		software.Dereferencing = &catalog.Dereferencing{}
		if err := decodeJSON(dereferencing.String, software.Dereferencing); err != nil {
			return nil, err
		}
	}

	created, err := decodeTime(sql.NullString{String: createdAt, Valid: true})
	if err != nil {
		return nil, err
	}
	updated, err := decodeTime(sql.NullString{String: updatedAt, Valid: true})
	if err != nil {
		return nil, err
	}
	software.CreatedAt = *created
	software.UpdatedAt = *updated
	return &software, nil
}

type similarities struct {
	db *sql.DB
}

func (l similarities) Replace(ctx context.Context, softwareID int64, links []catalog.SimilarityLink) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("replace", "similarity links", strconv.FormatInt(softwareID, 10), err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM similarity_links WHERE software_id = ?`, softwareID); err != nil {
		return errors.WrapResource("replace", "similarity links", strconv.FormatInt(softwareID, 10), err)
	}
	for _, link := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO similarity_links (software_id, source_slug, external_id)
			VALUES (?, ?, ?)`,
			softwareID, link.SourceSlug, link.ExternalID); err != nil {
			return errors.WrapResource("replace", "similarity links", strconv.FormatInt(softwareID, 10), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapResource("replace", "similarity links", strconv.FormatInt(softwareID, 10), err)
	}
	return nil
}

func (l similarities) BySoftware(ctx context.Context, softwareID int64) ([]catalog.SimilarityLink, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT software_id, source_slug, external_id FROM similarity_links
		WHERE software_id = ?
		ORDER BY source_slug, external_id`, softwareID)
	if err != nil {
		return nil, errors.WrapResource("list", "similarity links", strconv.FormatInt(softwareID, 10), err)
	}
	defer rows.Close()

	var out []catalog.SimilarityLink
	for rows.Next() {
		var link catalog.SimilarityLink
		if err := rows.Scan(&link.SoftwareID, &link.SourceSlug, &link.ExternalID); err != nil {
			return nil, errors.WrapResource("scan", "similarity links", strconv.FormatInt(softwareID, 10), err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("list", "similarity links", strconv.FormatInt(softwareID, 10), err)
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeNullableJSON(d *catalog.Dereferencing) (any, error) {
	if d == nil {
		return nil, nil
	}
	return encodeJSON(d)
}

func decodeJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func encodeID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func encodeBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func encodeTime(t *utc.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(s sql.NullString) (*utc.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	t := utc.Time{Time: parsed.UTC()}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
