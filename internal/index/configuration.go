package index

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
)

// counterKey returns the configuration-table key for a level's short-code
// counter (spec.md §3.3: "counter.vision, counter.task, ...").
func counterKey(level document.Level) string {
	return "counter." + string(level)
}

// GetCounter reads a level's current counter value (0 if never set).
func (idx *Index) GetCounter(ctx context.Context, level document.Level) (int, error) {
	return idx.getIntConfig(ctx, counterKey(level))
}

func (idx *Index) getIntConfig(ctx context.Context, key string) (int, error) {
	var value string

	err := idx.db.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("%w: get config %s: %w", metiserr.ErrDatabase, key, err)
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: config %s is not an integer: %w", metiserr.ErrDatabase, key, err)
	}

	return n, nil
}

// NextCounter atomically increments and returns a level's counter, the
// allocator's commit step (spec.md §4.3: "the caller writes the new file
// containing the candidate short-code, then commits the counter").
func (idx *Index) NextCounter(ctx context.Context, level document.Level) (int, error) {
	var next int

	err := idx.withTx(ctx, func(tx *sql.Tx) error {
		current, getErr := getIntConfigTx(ctx, tx, counterKey(level))
		if getErr != nil {
			return getErr
		}

		next = current + 1

		return setConfigTx(ctx, tx, counterKey(level), strconv.Itoa(next))
	})
	if err != nil {
		return 0, err
	}

	return next, nil
}

// SetCounterIfHigher monotonically raises a level's counter to n if it is
// currently lower (spec.md §4.5: "set_counter_if_higher").
func (idx *Index) SetCounterIfHigher(ctx context.Context, level document.Level, n int) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getIntConfigTx(ctx, tx, counterKey(level))
		if err != nil {
			return err
		}

		if n <= current {
			return nil
		}

		return setConfigTx(ctx, tx, counterKey(level), strconv.Itoa(n))
	})
}

func getIntConfigTx(ctx context.Context, tx *sql.Tx, key string) (int, error) {
	var value string

	err := tx.QueryRowContext(ctx, `SELECT value FROM configuration WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("%w: get config %s: %w", metiserr.ErrDatabase, key, err)
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: config %s is not an integer: %w", metiserr.ErrDatabase, key, err)
	}

	return n, nil
}

func setConfigTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO configuration (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set config %s: %w", metiserr.ErrDatabase, key, err)
	}

	return nil
}

// UpsertConfigMirror mirrors config.toml's prefix and flight-level flags
// into the configuration table (spec.md §4.2 step 2: "config file wins").
func (idx *Index) UpsertConfigMirror(ctx context.Context, prefix string, strategiesEnabled, initiativesEnabled bool) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		if err := setConfigTx(ctx, tx, "project.prefix", prefix); err != nil {
			return err
		}

		if err := setConfigTx(ctx, tx, "flight_levels.strategies_enabled", strconv.FormatBool(strategiesEnabled)); err != nil {
			return err
		}

		return setConfigTx(ctx, tx, "flight_levels.initiatives_enabled", strconv.FormatBool(initiativesEnabled))
	})
}
