package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	shouldCheckSQL = `SELECT cooldown_until
    FROM route_date_state
    WHERE origin = $1 AND dest = $2 AND trip_type = $3 AND depart_date = $4 AND return_date = $5;`

	upsertRouteDateStateSQL = `INSERT INTO route_date_state (
        origin, dest, trip_type, depart_date, return_date,
        status, best_price, last_checked_at, cooldown_until, last_offer_fingerprint
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (origin, dest, trip_type, depart_date, return_date) DO UPDATE
    SET
        status                 = EXCLUDED.status,
        best_price             = EXCLUDED.best_price,
        last_checked_at        = EXCLUDED.last_checked_at,
        cooldown_until         = EXCLUDED.cooldown_until,
        last_offer_fingerprint = EXCLUDED.last_offer_fingerprint;`

	listCooldownsSQL = `SELECT
        origin, dest, trip_type, depart_date, return_date,
        status, best_price, last_checked_at, cooldown_until, last_offer_fingerprint
    FROM route_date_state
    WHERE cooldown_until > $1
    ORDER BY cooldown_until DESC
    LIMIT $2;`

	forgiveCooldownsSQL = `UPDATE route_date_state
    SET cooldown_until = $1
    WHERE cooldown_until > $1;`

	forgiveRouteCooldownsSQL = `UPDATE route_date_state
    SET cooldown_until = $1
    WHERE cooldown_until > $1 AND origin = $2 AND dest = $3;`

	getStatsSQL = `SELECT sample_count, avg_price, updated_at
    FROM route_price_stats
    WHERE route_key = $1 AND trip_type = $2;`

	recordSampleStatsSQL = `INSERT INTO route_price_stats (route_key, trip_type, sample_count, avg_price, updated_at)
    VALUES ($1, $2, 1, $3, $4)
    ON CONFLICT (route_key, trip_type) DO UPDATE
    SET
        avg_price    = (route_price_stats.avg_price * route_price_stats.sample_count + EXCLUDED.avg_price)
                       / (route_price_stats.sample_count + 1),
        sample_count = route_price_stats.sample_count + 1,
        updated_at   = EXCLUDED.updated_at;`

	recordSampleHistorySQL = `INSERT INTO route_price_history (route_key, trip_type, price, observed_at)
    VALUES ($1, $2, $3, $4);`

	listPriceHistorySQL = `SELECT route_key, trip_type, price, observed_at
    FROM route_price_history
    WHERE route_key = $1
      AND trip_type = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	wasAnnouncedSQL = `SELECT announced_at
    FROM announcements
    WHERE dedupe_key = $1;`

	markAnnouncedSQL = `INSERT INTO announcements (dedupe_key, announced_at)
    VALUES ($1, $2)
    ON CONFLICT (dedupe_key) DO UPDATE
    SET announced_at = EXCLUDED.announced_at;`

	pruneAnnouncementsSQL = `DELETE FROM announcements WHERE announced_at < $1;`

	countGroupSendsSQL = `SELECT COUNT(*)
    FROM group_send_log
    WHERE group_name = $1 AND sent_at >= $2;`

	lastGroupSendSQL = `SELECT sent_at
    FROM group_send_log
    WHERE group_name = $1
    ORDER BY sent_at DESC
    LIMIT 1;`

	recordGroupSendSQL = `INSERT INTO group_send_log (group_name, sent_at) VALUES ($1, $2);`

	pruneGroupSendsSQL = `DELETE FROM group_send_log WHERE sent_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CooldownStore defines the route-date state machine operations.
type CooldownStore interface {
	ShouldCheck(ctx context.Context, key RouteDateKey, cooldownsEnabled bool) (bool, error)
	MarkGood(ctx context.Context, key RouteDateKey, bestPrice int, fingerprint string, cooldown time.Duration) error
	MarkBad(ctx context.Context, key RouteDateKey, bestPrice *int, cooldown time.Duration) error
	MarkNoData(ctx context.Context, key RouteDateKey, cooldown time.Duration) error
}

// StatsStore defines the rolling price statistics operations.
type StatsStore interface {
	GetStats(ctx context.Context, routeKey, tripType string) (RouteStats, bool, error)
	RecordSample(ctx context.Context, routeKey, tripType string, price int) error
}

// AnnouncementStore defines the TTL-based recently-announced record.
type AnnouncementStore interface {
	WasAnnouncedRecently(ctx context.Context, dedupeKey string, ttl time.Duration) (bool, error)
	MarkAnnounced(ctx context.Context, dedupeKey string) error
}

// SendLogStore defines the per-group delivery history.
type SendLogStore interface {
	CountGroupSendsSince(ctx context.Context, group string, since time.Time) (int, error)
	LastGroupSend(ctx context.Context, group string) (time.Time, bool, error)
	RecordGroupSend(ctx context.Context, group string, at time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the cooldown state machine, price statistics,
// announcement records, and the group send log.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The lock guards cycle exclusivity: the cooldown store and
// queue snapshot are not designed for concurrent writers.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ShouldCheck reports whether a route/date is eligible for a new scrape:
// true iff no row exists or the cooldown has elapsed. When cooldownsEnabled
// is false the stored cooldown is ignored and every key is eligible.
func (s *Store) ShouldCheck(ctx context.Context, key RouteDateKey, cooldownsEnabled bool) (bool, error) {
	if !cooldownsEnabled {
		return true, nil
	}

	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var cooldownUntil time.Time
	err = pool.QueryRow(ctx, shouldCheckSQL,
		key.Origin, key.Dest, key.TripType, key.DepartDate, key.ReturnDate,
	).Scan(&cooldownUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query route date state: %w", err)
	}

	return eligibleAt(cooldownUntil, s.now()), nil
}

// eligibleAt reports whether a route/date may be checked again at now. The
// boundary is inclusive: a key becomes eligible exactly at cooldown_until.
func eligibleAt(cooldownUntil, now time.Time) bool {
	return !now.Before(cooldownUntil)
}

// newStateRow builds the row written by a mark. CooldownUntil is relative to
// now, normalised to UTC.
func newStateRow(key RouteDateKey, status string, bestPrice *int, fingerprint string, now time.Time, cooldown time.Duration) RouteDateState {
	now = now.UTC()
	return RouteDateState{
		Key:             key,
		Status:          status,
		BestPrice:       bestPrice,
		LastCheckedAt:   now,
		CooldownUntil:   now.Add(cooldown),
		LastFingerprint: fingerprint,
	}
}

func (s *Store) markState(ctx context.Context, key RouteDateKey, status string, bestPrice *int, fingerprint string, cooldown time.Duration) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	row := newStateRow(key, status, bestPrice, fingerprint, s.now(), cooldown)

	var price interface{}
	if row.BestPrice != nil {
		price = *row.BestPrice
	}

	_, execErr := pool.Exec(ctx, upsertRouteDateStateSQL,
		row.Key.Origin,
		row.Key.Dest,
		row.Key.TripType,
		row.Key.DepartDate,
		row.Key.ReturnDate,
		row.Status,
		price,
		row.LastCheckedAt,
		row.CooldownUntil,
		row.LastFingerprint,
	)
	if execErr != nil {
		return fmt.Errorf("upsert route date state: %w", execErr)
	}
	return nil
}

// MarkGood records a successful check with a valid price at or under the
// ceiling.
func (s *Store) MarkGood(ctx context.Context, key RouteDateKey, bestPrice int, fingerprint string, cooldown time.Duration) error {
	return s.markState(ctx, key, StateGood, &bestPrice, fingerprint, cooldown)
}

// MarkBad records a check that found offers but no acceptable price.
func (s *Store) MarkBad(ctx context.Context, key RouteDateKey, bestPrice *int, cooldown time.Duration) error {
	return s.markState(ctx, key, StateBad, bestPrice, "", cooldown)
}

// MarkNoData records a check that found no offers at all.
func (s *Store) MarkNoData(ctx context.Context, key RouteDateKey, cooldown time.Duration) error {
	return s.markState(ctx, key, StateNoData, nil, "", cooldown)
}

// ListCooldowns lists route/dates still inside their cooldown window,
// soonest to expire last.
func (s *Store) ListCooldowns(ctx context.Context, limit int) ([]RouteDateState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCooldownsSQL, s.now().UTC(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list cooldowns: %w", queryErr)
	}
	defer rows.Close()

	states := make([]RouteDateState, 0, limit)
	for rows.Next() {
		var st RouteDateState
		var price sql.NullInt64
		if err := rows.Scan(
			&st.Key.Origin,
			&st.Key.Dest,
			&st.Key.TripType,
			&st.Key.DepartDate,
			&st.Key.ReturnDate,
			&st.Status,
			&price,
			&st.LastCheckedAt,
			&st.CooldownUntil,
			&st.LastFingerprint,
		); err != nil {
			return nil, fmt.Errorf("scan route date state: %w", err)
		}
		if price.Valid {
			value := int(price.Int64)
			st.BestPrice = &value
		}
		states = append(states, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// ForgiveCooldowns expires active cooldowns immediately, for one route or
// (with empty origin/dest) for all. Returns the number of rows touched.
func (s *Store) ForgiveCooldowns(ctx context.Context, origin, dest string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	if origin == "" && dest == "" {
		tag, execErr := pool.Exec(ctx, forgiveCooldownsSQL, now)
		if execErr != nil {
			return 0, fmt.Errorf("forgive cooldowns: %w", execErr)
		}
		return tag.RowsAffected(), nil
	}

	tag, execErr := pool.Exec(ctx, forgiveRouteCooldownsSQL, now, origin, dest)
	if execErr != nil {
		return 0, fmt.Errorf("forgive route cooldowns: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// GetStats reads the rolling (count, average) for a route/trip type.
func (s *Store) GetStats(ctx context.Context, routeKey, tripType string) (RouteStats, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RouteStats{}, false, err
	}

	stats := RouteStats{RouteKey: routeKey, TripType: tripType}
	var avgStr string
	err = pool.QueryRow(ctx, getStatsSQL, routeKey, tripType).
		Scan(&stats.Samples, &avgStr, &stats.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RouteStats{}, false, nil
	}
	if err != nil {
		return RouteStats{}, false, fmt.Errorf("query route stats: %w", err)
	}

	stats.Avg, err = decimal.NewFromString(avgStr)
	if err != nil {
		return RouteStats{}, false, fmt.Errorf("parse avg price: %w", err)
	}
	return stats, true, nil
}

// RecordSample folds a new minimum price into the rolling average and
// appends a history row for exports.
func (s *Store) RecordSample(ctx context.Context, routeKey, tripType string, price int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if _, execErr := pool.Exec(ctx, recordSampleStatsSQL, routeKey, tripType, price, now); execErr != nil {
		return fmt.Errorf("record sample stats: %w", execErr)
	}
	if _, execErr := pool.Exec(ctx, recordSampleHistorySQL, routeKey, tripType, price, now); execErr != nil {
		return fmt.Errorf("record sample history: %w", execErr)
	}
	return nil
}

// ListPriceHistory lists recorded samples for a route within a time window.
func (s *Store) ListPriceHistory(ctx context.Context, routeKey, tripType string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceHistorySQL, routeKey, tripType, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		var sample PriceSample
		if err := rows.Scan(&sample.RouteKey, &sample.TripType, &sample.Price, &sample.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// WasAnnouncedRecently reports whether a dedupe key was announced within the
// TTL window.
func (s *Store) WasAnnouncedRecently(ctx context.Context, dedupeKey string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var announcedAt time.Time
	err = pool.QueryRow(ctx, wasAnnouncedSQL, dedupeKey).Scan(&announcedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query announcement: %w", err)
	}

	return s.now().Sub(announcedAt) < ttl, nil
}

// MarkAnnounced records (or refreshes) the announcement timestamp for a
// dedupe key.
func (s *Store) MarkAnnounced(ctx context.Context, dedupeKey string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markAnnouncedSQL, dedupeKey, s.now().UTC()); execErr != nil {
		return fmt.Errorf("mark announced: %w", execErr)
	}
	return nil
}

// PruneAnnouncementsBefore deletes announcement records older than the given
// time.
func (s *Store) PruneAnnouncementsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pruneAnnouncementsSQL, olderThan); execErr != nil {
		return fmt.Errorf("prune announcements: %w", execErr)
	}
	return nil
}

// CountGroupSendsSince counts deliveries to a group since the given time.
func (s *Store) CountGroupSendsSince(ctx context.Context, group string, since time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countGroupSendsSQL, group, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count group sends: %w", scanErr)
	}
	return count, nil
}

// LastGroupSend returns the most recent delivery timestamp for a group.
func (s *Store) LastGroupSend(ctx context.Context, group string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	err = pool.QueryRow(ctx, lastGroupSendSQL, group).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last group send: %w", err)
	}
	return at, true, nil
}

// RecordGroupSend appends a delivery timestamp for a group.
func (s *Store) RecordGroupSend(ctx context.Context, group string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordGroupSendSQL, group, at.UTC()); execErr != nil {
		return fmt.Errorf("record group send: %w", execErr)
	}
	return nil
}

// PruneGroupSendsBefore deletes send-log rows older than the given time.
func (s *Store) PruneGroupSendsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pruneGroupSendsSQL, olderThan); execErr != nil {
		return fmt.Errorf("prune group sends: %w", execErr)
	}
	return nil
}

var (
	_ CooldownStore     = (*Store)(nil)
	_ StatsStore        = (*Store)(nil)
	_ AnnouncementStore = (*Store)(nil)
	_ SendLogStore      = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
