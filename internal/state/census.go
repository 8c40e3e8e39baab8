package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/utils"
)

// Sample is one recorded bucket census of a running node.
type Sample struct {
	ID      string      `json:"id"`
	NodeID  string      `json:"node_id"`
	TakenAt time.Time   `json:"taken_at"`
	Size    int         `json:"size"`
	Buckets map[int]int `json:"buckets"`
}

// RecordCensus stores census (bucket index to entry count) as a new sample
// and returns its id.
func RecordCensus(node kad.NodeID, census map[int]int, at time.Time) (string, error) {
	id := uuid.New().String()
	size := 0
	for _, c := range census {
		size += c
	}

	err := withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO census_samples (id, node_id, taken_at, size) VALUES (?, ?, ?, ?)",
			id, node.Hex(), at.UnixMilli(), size,
		); err != nil {
			return err
		}
		stmt, err := tx.Prepare("INSERT INTO census_buckets (sample_id, bucket, count) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for bucket, count := range census {
			if _, err := stmt.Exec(id, bucket, count); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to record census: %w", err)
	}
	return id, nil
}

// ListCensus returns up to limit samples, newest first. limit <= 0 returns all.
func ListCensus(limit int) ([]Sample, error) {
	d, err := GetDB()
	if err != nil {
		return nil, err
	}

	query := "SELECT id, node_id, taken_at, size FROM census_samples ORDER BY taken_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query census: %w", err)
	}

	var samples []Sample
	for rows.Next() {
		var s Sample
		var taken int64
		if err := rows.Scan(&s.ID, &s.NodeID, &taken, &s.Size); err != nil {
			_ = rows.Close()
			return nil, err
		}
		s.TakenAt = time.UnixMilli(taken)
		s.Buckets = make(map[int]int)
		samples = append(samples, s)
	}
	if err := rows.Close(); err != nil {
		utils.Debug("Error closing rows: %v", err)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range samples {
		if err := loadBuckets(d, &samples[i]); err != nil {
			return nil, err
		}
	}
	return samples, nil
}

func loadBuckets(d *sql.DB, s *Sample) error {
	rows, err := d.Query("SELECT bucket, count FROM census_buckets WHERE sample_id = ?", s.ID)
	if err != nil {
		return err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			utils.Debug("Error closing rows: %v", err)
		}
	}()
	for rows.Next() {
		var bucket, count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return err
		}
		s.Buckets[bucket] = count
	}
	return rows.Err()
}

// PruneCensus deletes all but the newest keep samples.
func PruneCensus(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	var removed int64
	err := withTx(func(tx *sql.Tx) error {
		stale := `SELECT id FROM census_samples ORDER BY taken_at DESC, rowid DESC LIMIT -1 OFFSET ?`
		if _, err := tx.Exec("DELETE FROM census_buckets WHERE sample_id IN ("+stale+")", keep); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM census_samples WHERE id IN ("+stale+")", keep)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}
