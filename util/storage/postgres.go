package storage

import (
	"context"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS dpn_node (
    namespace         TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    api_root          TEXT NOT NULL DEFAULT '',
    ssh_pubkey        TEXT NOT NULL DEFAULT '',
    replicate_from    TEXT[] NOT NULL DEFAULT '{}',
    replicate_to      TEXT[] NOT NULL DEFAULT '{}',
    protocols         TEXT[] NOT NULL DEFAULT '{}',
    fixity_algorithms TEXT[] NOT NULL DEFAULT '{}',
    auth_token_hash   BYTEA,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    last_pull_date    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dpn_replication (
    replication_id   TEXT PRIMARY KEY,
    from_node        TEXT NOT NULL,
    to_node          TEXT NOT NULL,
    bag              UUID NOT NULL,
    fixity_algorithm TEXT NOT NULL,
    fixity_nonce     TEXT,
    fixity_value     TEXT,
    fixity_accept    BOOLEAN,
    bag_valid        BOOLEAN,
    status           TEXT NOT NULL,
    protocol         TEXT NOT NULL,
    link             TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    CHECK (from_node <> to_node)
);

CREATE INDEX IF NOT EXISTS dpn_replication_updated_at ON dpn_replication (updated_at);
`

const replicationColumns = `replication_id, from_node, to_node, bag::text, fixity_algorithm,
    fixity_nonce, fixity_value, fixity_accept, bag_valid, status, protocol, link,
    created_at, updated_at`

const nodeColumns = `namespace, name, api_root, ssh_pubkey, replicate_from, replicate_to,
    protocols, fixity_algorithms, auth_token_hash, created_at, updated_at, last_pull_date`

// Postgres stores transfers and nodes in PostgreSQL. The conditional
// update is a single UPDATE guarded by the expected status, so the
// database serializes competing writers.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at url.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("Cannot connect to postgres: %v", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Cannot ping postgres: %v", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables if they don't exist.
func (pg *Postgres) Migrate(ctx context.Context) error {
	_, err := pg.pool.Exec(ctx, schema)
	return err
}

func (pg *Postgres) Close() error {
	pg.pool.Close()
	return nil
}

func (pg *Postgres) CreateReplication(ctx context.Context, xfer *models.ReplicationTransfer) error {
	_, err := pg.pool.Exec(ctx, `
INSERT INTO dpn_replication (replication_id, from_node, to_node, bag, fixity_algorithm,
    fixity_nonce, fixity_value, fixity_accept, bag_valid, status, protocol, link,
    created_at, updated_at)
VALUES ($1, $2, $3, $4::uuid, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		xfer.ReplicationId, xfer.FromNode, xfer.ToNode, xfer.Bag, xfer.FixityAlgorithm,
		xfer.FixityNonce, xfer.FixityValue, xfer.FixityAccept, xfer.BagValid,
		string(xfer.Status), xfer.Protocol, xfer.Link, xfer.CreatedAt, xfer.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("Replication %s: %w", xfer.ReplicationId, ErrConflict)
	}
	return err
}

func (pg *Postgres) GetReplication(ctx context.Context, replicationId string) (*models.ReplicationTransfer, error) {
	row := pg.pool.QueryRow(ctx,
		`SELECT `+replicationColumns+` FROM dpn_replication WHERE replication_id = $1`,
		replicationId)
	xfer, err := scanReplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("Replication %s: %w", replicationId, ErrNotFound)
	}
	return xfer, err
}

// UpdateReplication writes only if the row's status is still
// expected. When no row changes, a follow-up read tells a missing
// record apart from a lost race.
func (pg *Postgres) UpdateReplication(ctx context.Context, replicationId string, expected dpn.ReplicationStatus, update *models.ReplicationUpdate) (*models.ReplicationTransfer, error) {
	row := pg.pool.QueryRow(ctx, `
UPDATE dpn_replication
   SET status = $3,
       fixity_value = COALESCE($4, fixity_value),
       fixity_accept = COALESCE($5, fixity_accept),
       bag_valid = COALESCE($6, bag_valid),
       updated_at = $7
 WHERE replication_id = $1 AND status = $2
RETURNING `+replicationColumns,
		replicationId, string(expected), string(update.Status), update.FixityValue,
		update.FixityAccept, update.BagValid, update.UpdatedAt)
	xfer, err := scanReplication(row)
	if err == nil {
		return xfer, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, err := pg.GetReplication(ctx, replicationId)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("Replication %s is %s, expected %s: %w",
		replicationId, current.Status, expected, ErrConflict)
}

func (pg *Postgres) ListReplications(ctx context.Context, filter models.ReplicationFilter) ([]*models.ReplicationTransfer, int, error) {
	filter.Normalize()
	where, args := replicationWhere(filter)
	var total int
	err := pg.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dpn_replication`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	// OrderBy has been normalized to a known column name.
	query := fmt.Sprintf(`SELECT %s FROM dpn_replication%s ORDER BY %s, replication_id LIMIT %d OFFSET %d`,
		replicationColumns, where, filter.OrderBy, filter.PageSize, filter.Offset())
	rows, err := pg.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	xfers := make([]*models.ReplicationTransfer, 0)
	for rows.Next() {
		xfer, err := scanReplication(rows)
		if err != nil {
			return nil, 0, err
		}
		xfers = append(xfers, xfer)
	}
	return xfers, total, rows.Err()
}

func replicationWhere(filter models.ReplicationFilter) (string, []interface{}) {
	conditions := make([]string, 0)
	args := make([]interface{}, 0)
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s $%d", column, len(args)))
	}
	if !filter.After.IsZero() {
		add("updated_at >", filter.After)
	}
	if filter.FromNode != "" {
		add("from_node =", filter.FromNode)
	}
	if filter.ToNode != "" {
		add("to_node =", filter.ToNode)
	}
	if filter.Status != "" {
		add("status =", string(filter.Status))
	}
	if filter.Bag != "" {
		add("bag::text =", filter.Bag)
	}
	if filter.BagValid != nil {
		add("bag_valid =", *filter.BagValid)
	}
	if filter.FixityAccept != nil {
		add("fixity_accept =", *filter.FixityAccept)
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (pg *Postgres) CreateNode(ctx context.Context, node *models.Node) error {
	_, err := pg.pool.Exec(ctx, `INSERT INTO dpn_node (`+nodeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, nodeArgs(node)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("Node %s: %w", node.Namespace, ErrConflict)
	}
	return err
}

func (pg *Postgres) SaveNode(ctx context.Context, node *models.Node) error {
	_, err := pg.pool.Exec(ctx, `INSERT INTO dpn_node (`+nodeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (namespace) DO UPDATE SET
    name = EXCLUDED.name,
    api_root = EXCLUDED.api_root,
    ssh_pubkey = EXCLUDED.ssh_pubkey,
    replicate_from = EXCLUDED.replicate_from,
    replicate_to = EXCLUDED.replicate_to,
    protocols = EXCLUDED.protocols,
    fixity_algorithms = EXCLUDED.fixity_algorithms,
    auth_token_hash = EXCLUDED.auth_token_hash,
    updated_at = EXCLUDED.updated_at,
    last_pull_date = EXCLUDED.last_pull_date`, nodeArgs(node)...)
	return err
}

func (pg *Postgres) GetNode(ctx context.Context, namespace string) (*models.Node, error) {
	row := pg.pool.QueryRow(ctx, `SELECT `+nodeColumns+` FROM dpn_node WHERE namespace = $1`, namespace)
	node, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("Node %s: %w", namespace, ErrNotFound)
	}
	return node, err
}

func (pg *Postgres) DeleteNode(ctx context.Context, namespace string) error {
	tag, err := pg.pool.Exec(ctx, `DELETE FROM dpn_node WHERE namespace = $1`, namespace)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("Node %s: %w", namespace, ErrNotFound)
	}
	return nil
}

func (pg *Postgres) ListNodes(ctx context.Context) ([]*models.Node, error) {
	rows, err := pg.pool.Query(ctx, `SELECT `+nodeColumns+` FROM dpn_node ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes := make([]*models.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func nodeArgs(node *models.Node) []interface{} {
	return []interface{}{
		node.Namespace, node.Name, node.APIRoot, node.SSHPubKey,
		nonNil(node.ReplicateFrom), nonNil(node.ReplicateTo),
		nonNil(node.Protocols), nonNil(node.FixityAlgorithms),
		node.AuthTokenHash, node.CreatedAt, node.UpdatedAt, node.LastPullDate,
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func scanReplication(row pgx.Row) (*models.ReplicationTransfer, error) {
	xfer := &models.ReplicationTransfer{}
	var status string
	err := row.Scan(&xfer.ReplicationId, &xfer.FromNode, &xfer.ToNode, &xfer.Bag,
		&xfer.FixityAlgorithm, &xfer.FixityNonce, &xfer.FixityValue, &xfer.FixityAccept,
		&xfer.BagValid, &status, &xfer.Protocol, &xfer.Link, &xfer.CreatedAt, &xfer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	xfer.Status = dpn.ReplicationStatus(status)
	xfer.CreatedAt = xfer.CreatedAt.UTC()
	xfer.UpdatedAt = xfer.UpdatedAt.UTC()
	return xfer, nil
}

func scanNode(row pgx.Row) (*models.Node, error) {
	node := &models.Node{}
	err := row.Scan(&node.Namespace, &node.Name, &node.APIRoot, &node.SSHPubKey,
		&node.ReplicateFrom, &node.ReplicateTo, &node.Protocols, &node.FixityAlgorithms,
		&node.AuthTokenHash, &node.CreatedAt, &node.UpdatedAt, &node.LastPullDate)
	if err != nil {
		return nil, err
	}
	node.CreatedAt = node.CreatedAt.UTC()
	node.UpdatedAt = node.UpdatedAt.UTC()
	node.LastPullDate = node.LastPullDate.UTC()
	return node, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
