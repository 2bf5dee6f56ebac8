package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore persists state in a SQL database. Timestamps are stored as unix
// milliseconds so the schema is identical across dialects.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens a database for the given dialect and migrates the schema.
func OpenSQL(dialect, dsn string) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "_pragma") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	case DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	// sqlite allows one writer; a single connection avoids "database is locked".
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and migrates the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id VARCHAR(255) PRIMARY KEY,
			bones BIGINT NOT NULL,
			last_share_reward BIGINT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shares (
			share_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			image_url TEXT NOT NULL,
			share_url TEXT NOT NULL,
			title TEXT NOT NULL,
			style VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			view_count BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			user_id VARCHAR(255) NOT NULL,
			artwork_id VARCHAR(255) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, artwork_id)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			product_id VARCHAR(255) NOT NULL,
			product_name TEXT NOT NULL,
			product_type VARCHAR(255) NOT NULL,
			size VARCHAR(64) NOT NULL,
			price_cents BIGINT NOT NULL,
			design_image_url TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_phone VARCHAR(64) NOT NULL,
			customer_address TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
	if s.dialect == DialectMySQL {
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS anonymous_quotas (
			quota_key VARCHAR(255) PRIMARY KEY,
			used INT NOT NULL,
			window_start BIGINT NOT NULL,
			INDEX idx_anonymous_quotas_window (window_start)
		)`)
	} else {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS anonymous_quotas (
				quota_key VARCHAR(255) PRIMARY KEY,
				used INT NOT NULL,
				window_start BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_anonymous_quotas_window ON anonymous_quotas(window_start)`,
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert builds an insert that overwrites the listed columns on key conflict.
func (s *SQLStore) upsert(table string, cols []string, key []string, update []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)

	sets := make([]string, len(update))
	if s.dialect == DialectMySQL {
		for i, c := range update {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return q + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(key, ", "), strings.Join(sets, ", "))
}

func (s *SQLStore) LoadAccount(ctx context.Context, userID string) (Account, error) {
	var (
		acct       Account
		lastReward sql.NullInt64
		created    int64
		updated    int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT user_id, bones, last_share_reward, created_at, updated_at FROM accounts WHERE user_id = ?"),
		userID,
	).Scan(&acct.UserID, &acct.Bones, &lastReward, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	if lastReward.Valid {
		t := time.UnixMilli(lastReward.Int64)
		acct.LastShareReward = &t
	}
	acct.CreatedAt = time.UnixMilli(created)
	acct.UpdatedAt = time.UnixMilli(updated)
	return acct, nil
}

func (s *SQLStore) SaveAccount(ctx context.Context, acct Account) error {
	var lastReward sql.NullInt64
	if acct.LastShareReward != nil {
		lastReward = sql.NullInt64{Int64: acct.LastShareReward.UnixMilli(), Valid: true}
	}
	q := s.upsert("accounts",
		[]string{"user_id", "bones", "last_share_reward", "created_at", "updated_at"},
		[]string{"user_id"},
		[]string{"bones", "last_share_reward", "updated_at"},
	)
	_, err := s.db.ExecContext(ctx, s.rebind(q),
		acct.UserID, acct.Bones, lastReward, acct.CreatedAt.UnixMilli(), acct.UpdatedAt.UnixMilli())
	return err
}

func (s *SQLStore) CreateShare(ctx context.Context, rec ShareRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO shares (share_id, user_id, image_url, share_url, title, style, description, view_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ShareID, rec.UserID, rec.ImageURL, rec.ShareURL, rec.Title, rec.Style, rec.Description,
		rec.ViewCount, rec.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLStore) IncrementShareViews(ctx context.Context, shareID string) (ShareRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ShareRecord{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind("UPDATE shares SET view_count = view_count + 1 WHERE share_id = ?"), shareID)
	if err != nil {
		return ShareRecord{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ShareRecord{}, err
	}
	if n == 0 {
		return ShareRecord{}, ErrNotFound
	}

	var (
		rec     ShareRecord
		created int64
	)
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT share_id, user_id, image_url, share_url, title, style, description, view_count, created_at
		FROM shares WHERE share_id = ?`), shareID,
	).Scan(&rec.ShareID, &rec.UserID, &rec.ImageURL, &rec.ShareURL, &rec.Title, &rec.Style, &rec.Description,
		&rec.ViewCount, &created)
	if err != nil {
		return ShareRecord{}, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	return rec, tx.Commit()
}

func (s *SQLStore) LoadQuota(ctx context.Context, key string) (QuotaEntry, error) {
	var (
		entry QuotaEntry
		start int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT quota_key, used, window_start FROM anonymous_quotas WHERE quota_key = ?"), key,
	).Scan(&entry.Key, &entry.Count, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return QuotaEntry{}, ErrNotFound
	}
	if err != nil {
		return QuotaEntry{}, err
	}
	entry.WindowStart = time.UnixMilli(start)
	return entry, nil
}

func (s *SQLStore) SaveQuota(ctx context.Context, entry QuotaEntry) error {
	q := s.upsert("anonymous_quotas",
		[]string{"quota_key", "used", "window_start"},
		[]string{"quota_key"},
		[]string{"used", "window_start"},
	)
	_, err := s.db.ExecContext(ctx, s.rebind(q), entry.Key, entry.Count, entry.WindowStart.UnixMilli())
	return err
}

// IncrementQuota relies on conditional updates, so concurrent writers on
// other processes cannot push a window past max.
func (s *SQLStore) IncrementQuota(ctx context.Context, key string, max int, window time.Duration, now time.Time) (QuotaEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QuotaEntry{}, false, err
	}
	defer tx.Rollback()

	insert := "INSERT INTO anonymous_quotas (quota_key, used, window_start) VALUES (?, 0, ?)"
	if s.dialect == DialectMySQL {
		insert = "INSERT IGNORE INTO anonymous_quotas (quota_key, used, window_start) VALUES (?, 0, ?)"
	} else {
		insert += " ON CONFLICT (quota_key) DO NOTHING"
	}
	nowMs := now.UnixMilli()
	if _, err := tx.ExecContext(ctx, s.rebind(insert), key, nowMs); err != nil {
		return QuotaEntry{}, false, err
	}

	// A window is expired once now - window_start > window.
	_, err = tx.ExecContext(ctx,
		s.rebind("UPDATE anonymous_quotas SET used = 0, window_start = ? WHERE quota_key = ? AND window_start < ?"),
		nowMs, key, now.Add(-window).UnixMilli())
	if err != nil {
		return QuotaEntry{}, false, err
	}

	res, err := tx.ExecContext(ctx,
		s.rebind("UPDATE anonymous_quotas SET used = used + 1 WHERE quota_key = ? AND used < ?"), key, max)
	if err != nil {
		return QuotaEntry{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return QuotaEntry{}, false, err
	}

	var (
		entry QuotaEntry
		start int64
	)
	err = tx.QueryRowContext(ctx,
		s.rebind("SELECT quota_key, used, window_start FROM anonymous_quotas WHERE quota_key = ?"), key,
	).Scan(&entry.Key, &entry.Count, &start)
	if err != nil {
		return QuotaEntry{}, false, err
	}
	entry.WindowStart = time.UnixMilli(start)
	return entry, n == 1, tx.Commit()
}

func (s *SQLStore) DeleteExpiredQuotas(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM anonymous_quotas WHERE window_start < ?"), cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) AddFavorite(ctx context.Context, fav Favorite) error {
	q := "INSERT INTO favorites (user_id, artwork_id, created_at) VALUES (?, ?, ?)"
	if s.dialect == DialectMySQL {
		q = "INSERT IGNORE INTO favorites (user_id, artwork_id, created_at) VALUES (?, ?, ?)"
	} else {
		q += " ON CONFLICT (user_id, artwork_id) DO NOTHING"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(q), fav.UserID, fav.ArtworkID, fav.CreatedAt.UnixMilli())
	return err
}

func (s *SQLStore) RemoveFavorite(ctx context.Context, userID, artworkID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM favorites WHERE user_id = ? AND artwork_id = ?"), userID, artworkID)
	return err
}

func (s *SQLStore) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT user_id, artwork_id, created_at FROM favorites WHERE user_id = ? ORDER BY created_at, artwork_id"),
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favs := []Favorite{}
	for rows.Next() {
		var (
			f       Favorite
			created int64
		)
		if err := rows.Scan(&f.UserID, &f.ArtworkID, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(created)
		favs = append(favs, f)
	}
	return favs, rows.Err()
}

const orderColumns = `order_id, user_id, product_id, product_name, product_type, size, price_cents,
	design_image_url, customer_name, customer_email, customer_phone, customer_address, status, created_at, updated_at`

func (s *SQLStore) CreateOrder(ctx context.Context, o Order) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		o.OrderID, o.UserID, o.ProductID, o.ProductName, o.ProductType, o.Size, o.PriceCents,
		o.DesignImageURL, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
		o.Status, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLStore) UpdateOrderStatus(ctx context.Context, orderID, status string, at time.Time) (Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, err
	}
	defer tx.Rollback()

	// Existence is decided by the select: MySQL counts unchanged rows as unaffected.
	_, err = tx.ExecContext(ctx, s.rebind("UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?"),
		status, at.UnixMilli(), orderID)
	if err != nil {
		return Order{}, err
	}

	o, err := scanOrder(tx.QueryRowContext(ctx, s.rebind("SELECT "+orderColumns+" FROM orders WHERE order_id = ?"), orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return o, tx.Commit()
}

func (s *SQLStore) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	q := "SELECT " + orderColumns + " FROM orders"
	var args []any
	if userID != "" {
		q += " WHERE user_id = ?"
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q+" ORDER BY created_at DESC, order_id"), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o                Order
		created, updated int64
	)
	err := row.Scan(&o.OrderID, &o.UserID, &o.ProductID, &o.ProductName, &o.ProductType, &o.Size, &o.PriceCents,
		&o.DesignImageURL, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&o.Status, &created, &updated)
	if err != nil {
		return Order{}, err
	}
	o.CreatedAt = time.UnixMilli(created)
	o.UpdatedAt = time.UnixMilli(updated)
	return o, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
