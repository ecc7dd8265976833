package cache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	gosync "sync"
	"time"

	"golang.org/x/text/unicode/norm"
	// Pure-Go SQLite driver (no CGO).
	"modernc.org/sqlite"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

const (
	nodeColumns = `n.id, n.name, n.is_folder, n.trashed, n.size, n.hash,
		n.mime_type, n.created_at, n.modified_at, n.private`

	// parentColumn picks one parent for nodes with several.
	parentColumn = `(SELECT parent_id FROM parentage WHERE child_id = n.id
		ORDER BY parent_id LIMIT 1)`

	sqlSelectNodes = `SELECT ` + nodeColumns + `, ` + parentColumn + ` FROM nodes n`

	sqlNodeByID = sqlSelectNodes + ` WHERE n.id = ?`

	sqlChildByName = `SELECT ` + nodeColumns + `, p.parent_id
		FROM nodes n JOIN parentage p ON p.child_id = n.id
		WHERE p.parent_id = ? AND n.name_key = ? AND n.trashed = 0
		ORDER BY n.id LIMIT 1`

	sqlChildren = `SELECT ` + nodeColumns + `, p.parent_id
		FROM nodes n JOIN parentage p ON p.child_id = n.id
		WHERE p.parent_id = ?
		ORDER BY n.name, n.id`

	sqlTrashed = sqlSelectNodes + ` WHERE n.trashed = 1 ORDER BY n.name, n.id`

	sqlByRegex = sqlSelectNodes + ` WHERE n.name REGEXP ? ORDER BY n.name, n.id`

	// Orphans are nodes no parent chain connects to the root: a missing
	// parent, or a cycle cut off from the tree.
	sqlOrphans = `WITH RECURSIVE reachable(id) AS (
			SELECT value FROM metadata WHERE key = '` + KeyRootID + `'
			UNION
			SELECT p.child_id FROM parentage p JOIN reachable r ON p.parent_id = r.id
		)
		` + sqlSelectNodes + `
		WHERE n.id NOT IN (SELECT id FROM reachable)
		ORDER BY n.name, n.id`

	sqlMultiParent = sqlSelectNodes + `
		WHERE n.id IN (SELECT child_id FROM parentage GROUP BY child_id HAVING COUNT(*) > 1)
		ORDER BY n.name, n.id`

	sqlUpsertNode = `INSERT INTO nodes
		(id, name, name_key, is_folder, trashed, size, hash, mime_type,
		 created_at, modified_at, private)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 name_key = excluded.name_key,
		 is_folder = excluded.is_folder,
		 trashed = excluded.trashed,
		 size = excluded.size,
		 hash = excluded.hash,
		 mime_type = excluded.mime_type,
		 created_at = excluded.created_at,
		 modified_at = excluded.modified_at,
		 private = excluded.private`

	sqlDeleteParentage = `DELETE FROM parentage WHERE child_id = ?`
	sqlInsertParentage = `INSERT OR IGNORE INTO parentage (parent_id, child_id) VALUES (?, ?)`

	// Parentage rows of removed nodes go with them via ON DELETE CASCADE.
	sqlDeleteSubtree = `WITH RECURSIVE subtree(id) AS (
			SELECT ?
			UNION
			SELECT p.child_id FROM parentage p JOIN subtree s ON p.parent_id = s.id
		)
		DELETE FROM nodes WHERE id IN (SELECT id FROM subtree)`

	sqlGetMetadata    = `SELECT value FROM metadata WHERE key = ?`
	sqlUpsertMetadata = `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

var regexpCache gosync.Map // pattern -> *regexp.Regexp

func init() {
	// X REGEXP Y calls regexp(Y, X).
	sqlite.MustRegisterDeterministicScalarFunction("regexp", 2,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pattern, ok := textArg(args[0])
			if !ok {
				return nil, nil
			}

			value, ok := textArg(args[1])
			if !ok {
				return nil, nil
			}

			re, err := compileCached(pattern)
			if err != nil {
				return nil, err
			}

			if re.MatchString(value) {
				return int64(1), nil
			}

			return int64(0), nil
		})
}

func textArg(v driver.Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	regexpCache.Store(pattern, re)

	return re, nil
}

// SQLite is the SQLite-backed NodeCache. Its methods block on disk I/O;
// wrap it with Dispatch to bound the goroutines doing so.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and brings
// its schema up to date. The database uses WAL mode with synchronous=FULL
// so a committed batch survives a crash.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database %s: %w", dbPath, err)
	}

	// One connection: writers are serialized and readers see committed state.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("node cache opened", slog.String("db_path", dbPath))

	return &SQLite{db: db, path: dbPath, logger: logger}, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cache: closing %s: %w", s.path, err)
	}

	return nil
}

func (s *SQLite) Root(ctx context.Context) (*vfs.Node, error) {
	id, err := s.Metadata(ctx, KeyRootID)
	if err != nil {
		return nil, fmt.Errorf("cache: root: %w", err)
	}

	return s.NodeByID(ctx, id)
}

func (s *SQLite) NodeByID(ctx context.Context, id string) (*vfs.Node, error) {
	return s.queryOne(ctx, "node "+id, sqlNodeByID, id)
}

func (s *SQLite) ChildByName(ctx context.Context, name, parentID string) (*vfs.Node, error) {
	return s.queryOne(ctx, fmt.Sprintf("child %q of %s", name, parentID),
		sqlChildByName, parentID, norm.NFC.String(name))
}

// NodeByPath resolves an absolute path one non-trashed segment at a time.
func (s *SQLite) NodeByPath(ctx context.Context, p string) (*vfs.Node, error) {
	cur, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}

	for _, seg := range vfs.SplitPath(p) {
		if !cur.IsFolder {
			return nil, fmt.Errorf("cache: path %s: %q is a file: %w", p, cur.Name, vfs.ErrNotFound)
		}

		cur, err = s.ChildByName(ctx, seg, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("cache: path %s: %w", p, err)
		}
	}

	return cur, nil
}

// PathOf walks parent links up to the root. A broken chain or a cycle is
// reported as an error, never papered over.
func (s *SQLite) PathOf(ctx context.Context, n *vfs.Node) (string, error) {
	rootID, err := s.Metadata(ctx, KeyRootID)
	if err != nil {
		return "", fmt.Errorf("cache: path of %s: %w", n.ID, err)
	}

	var segs []string

	seen := map[string]bool{}
	cur := n

	for cur.ID != rootID {
		if seen[cur.ID] {
			return "", fmt.Errorf("cache: path of %s: parent cycle at %s", n.ID, cur.ID)
		}

		seen[cur.ID] = true

		if cur.ParentID == "" {
			return "", fmt.Errorf("cache: path of %s: %s has no parent: %w", n.ID, cur.ID, vfs.ErrNotFound)
		}

		segs = append(segs, cur.Name)

		cur, err = s.NodeByID(ctx, cur.ParentID)
		if err != nil {
			return "", fmt.Errorf("cache: path of %s: %w", n.ID, err)
		}
	}

	out := ""
	for i := len(segs) - 1; i >= 0; i-- {
		out += vfs.Separator + segs[i]
	}

	if out == "" {
		return vfs.Separator, nil
	}

	return out, nil
}

func (s *SQLite) Children(ctx context.Context, parentID string) ([]*vfs.Node, error) {
	return s.queryMany(ctx, "children of "+parentID, sqlChildren, parentID)
}

func (s *SQLite) TrashedNodes(ctx context.Context) ([]*vfs.Node, error) {
	return s.queryMany(ctx, "trashed nodes", sqlTrashed)
}

// FindByRegex returns nodes whose name matches pattern (RE2 syntax).
func (s *SQLite) FindByRegex(ctx context.Context, pattern string) ([]*vfs.Node, error) {
	if _, err := compileCached(pattern); err != nil {
		return nil, fmt.Errorf("cache: find %q: %w", pattern, err)
	}

	return s.queryMany(ctx, "find "+pattern, sqlByRegex, pattern)
}

func (s *SQLite) FindOrphans(ctx context.Context) ([]*vfs.Node, error) {
	return s.queryMany(ctx, "orphans", sqlOrphans)
}

func (s *SQLite) FindMultiParent(ctx context.Context) ([]*vfs.Node, error) {
	return s.queryMany(ctx, "multi-parent nodes", sqlMultiParent)
}

func (s *SQLite) InsertRoot(ctx context.Context, root *vfs.Node) error {
	return s.inTx(ctx, "insert root", func(tx *sql.Tx) error {
		if err := upsertNode(ctx, tx, root); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, sqlDeleteParentage, root.ID); err != nil {
			return fmt.Errorf("clearing root parentage: %w", err)
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertMetadata, KeyRootID, root.ID); err != nil {
			return fmt.Errorf("recording root id: %w", err)
		}

		return nil
	})
}

func (s *SQLite) ApplyChanges(ctx context.Context, changes []vfs.Change, next vfs.CheckPoint) error {
	err := s.inTx(ctx, "apply changes", func(tx *sql.Tx) error {
		for i := range changes {
			if err := applyChange(ctx, tx, changes[i]); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertMetadata, KeyCheckPoint, string(next)); err != nil {
			return fmt.Errorf("recording check point: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("changes applied",
		slog.Int("changes", len(changes)),
		slog.String("check_point", string(next)),
	)

	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, c vfs.Change) error {
	if c.Removed {
		if _, err := tx.ExecContext(ctx, sqlDeleteSubtree, c.ID); err != nil {
			return fmt.Errorf("removing %s: %w", c.ID, err)
		}

		return nil
	}

	if c.Node == nil {
		return fmt.Errorf("upsert of %s carries no node", c.ID)
	}

	if err := upsertNode(ctx, tx, c.Node); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteParentage, c.Node.ID); err != nil {
		return fmt.Errorf("clearing parentage of %s: %w", c.Node.ID, err)
	}

	if c.Node.ParentID == "" {
		return nil
	}

	if _, err := tx.ExecContext(ctx, sqlInsertParentage, c.Node.ParentID, c.Node.ID); err != nil {
		return fmt.Errorf("linking %s under %s: %w", c.Node.ID, c.Node.ParentID, err)
	}

	return nil
}

func upsertNode(ctx context.Context, tx *sql.Tx, n *vfs.Node) error {
	var private sql.NullString

	if len(n.Private) > 0 {
		b, err := json.Marshal(n.Private)
		if err != nil {
			return fmt.Errorf("encoding private data of %s: %w", n.ID, err)
		}

		private = sql.NullString{String: string(b), Valid: true}
	}

	size := n.Size
	if n.IsFolder {
		size = 0
	}

	_, err := tx.ExecContext(ctx, sqlUpsertNode,
		n.ID, n.Name, norm.NFC.String(n.Name),
		boolToInt(n.IsFolder), boolToInt(n.Trashed), size,
		nullString(n.Hash), nullString(n.MimeType),
		nullTime(n.Created), nullTime(n.Modified),
		private,
	)
	if err != nil {
		return fmt.Errorf("upserting node %s: %w", n.ID, err)
	}

	return nil
}

// CheckPoint returns the cursor recorded by the last ApplyChanges.
func (s *SQLite) CheckPoint(ctx context.Context) (vfs.CheckPoint, bool, error) {
	v, err := s.Metadata(ctx, KeyCheckPoint)
	if errors.Is(err, vfs.ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return vfs.CheckPoint(v), true, nil
}

func (s *SQLite) Metadata(ctx context.Context, key string) (string, error) {
	var v string

	err := s.db.QueryRowContext(ctx, sqlGetMetadata, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cache: metadata %q: %w", key, vfs.ErrNotFound)
	}

	if err != nil {
		return "", fmt.Errorf("cache: reading metadata %q: %w", key, err)
	}

	return v, nil
}

func (s *SQLite) SetMetadata(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertMetadata, key, value); err != nil {
		return fmt.Errorf("cache: writing metadata %q: %w", key, err)
	}

	return nil
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLite) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: %s: beginning transaction: %w", what, err)
	}

	// Rollback is a no-op after Commit succeeds.
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	if err := fn(tx); err != nil {
		return fmt.Errorf("cache: %s: %w", what, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: %s: committing: %w", what, err)
	}

	return nil
}

func (s *SQLite) queryOne(ctx context.Context, what, query string, args ...any) (*vfs.Node, error) {
	nodes, err := s.queryMany(ctx, what, query, args...)
	if err != nil {
		return nil, err
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("cache: %s: %w", what, vfs.ErrNotFound)
	}

	return nodes[0], nil
}

func (s *SQLite) queryMany(ctx context.Context, what, query string, args ...any) ([]*vfs.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: querying %s: %w", what, err)
	}
	defer rows.Close()

	var out []*vfs.Node

	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("cache: scanning %s: %w", what, err)
		}

		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: iterating %s: %w", what, err)
	}

	return out, nil
}

// scanNode reads one row in nodeColumns order followed by the parent ID.
func scanNode(rows *sql.Rows) (*vfs.Node, error) {
	var (
		n        vfs.Node
		isFolder int
		trashed  int
		hash     sql.NullString
		mimeType sql.NullString
		created  sql.NullInt64
		modified sql.NullInt64
		private  sql.NullString
		parentID sql.NullString
	)

	if err := rows.Scan(
		&n.ID, &n.Name, &isFolder, &trashed, &n.Size, &hash,
		&mimeType, &created, &modified, &private, &parentID,
	); err != nil {
		return nil, err
	}

	n.IsFolder = isFolder != 0
	n.Trashed = trashed != 0
	n.Hash = hash.String
	n.MimeType = mimeType.String
	n.ParentID = parentID.String

	if created.Valid {
		n.Created = time.Unix(0, created.Int64)
	}

	if modified.Valid {
		n.Modified = time.Unix(0, modified.Int64)
	}

	if private.Valid {
		if err := json.Unmarshal([]byte(private.String), &n.Private); err != nil {
			return nil, fmt.Errorf("decoding private data of %s: %w", n.ID, err)
		}
	}

	return &n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
