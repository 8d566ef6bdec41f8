// Package pool loads ASDP record pools for rule evaluation.
//
// Two sources are supported: a JSON array of flat records, and an
// ASDPDB sqlite database (an ASDP table of base attributes plus a
// METADATA table of typed per-product fields). Records are normalized
// to flat maps of field name to float64 or string, and every record
// must carry an "id" field.
package pool

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/srdtools/srd/pkg/srd/ast"
)

// Metadata field type tags used by the ASDPDB METADATA table.
const (
	metaInt    = 0
	metaFloat  = 1
	metaString = 2
)

// FromJSON reads a pool from a JSON file containing an array of flat
// records. Numbers become float64, strings stay strings; nested values
// are rejected.
func FromJSON(path string) (ast.Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pool %s: %w", path, err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing pool %s: %w", path, err)
	}

	pool := make(ast.Pool, 0, len(raw))
	for i, entry := range raw {
		record := make(ast.Record, len(entry))
		for field, value := range entry {
			switch v := value.(type) {
			case float64:
				record[field] = v
			case string:
				record[field] = v
			default:
				return nil, fmt.Errorf("pool %s: record %d: field %q is not a number or string", path, i, field)
			}
		}
		if _, ok := record["id"]; !ok {
			return nil, fmt.Errorf("pool %s: record %d has no id field", path, i)
		}
		pool = append(pool, record)
	}
	return pool, nil
}

// FromSQLite reads a pool from an ASDPDB sqlite database. Each record
// combines the ASDP table's base attributes (asdp_id exposed as "id")
// with that product's METADATA fields.
func FromSQLite(path string) (ast.Pool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ASDPDB %s: %w", path, err)
	}
	defer db.Close()

	pool, err := readASDPs(db)
	if err != nil {
		return nil, fmt.Errorf("ASDPDB %s: %w", path, err)
	}
	return pool, nil
}

func readASDPs(db *sql.DB) (ast.Pool, error) {
	rows, err := db.Query(`
		SELECT asdp_id, instrument_name, type, uri, size,
		       science_utility_estimate, priority_bin, downlink_state
		FROM ASDP ORDER BY asdp_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pool ast.Pool
	ids := make([]int64, 0)
	for rows.Next() {
		var (
			id      int64
			instr   string
			dpType  string
			uri     string
			size    int64
			sue     float64
			bin     int64
			dlState int64
		)
		if err := rows.Scan(&id, &instr, &dpType, &uri, &size, &sue, &bin, &dlState); err != nil {
			return nil, err
		}
		pool = append(pool, ast.Record{
			"id":                       float64(id),
			"instrument_name":          instr,
			"type":                     dpType,
			"uri":                      uri,
			"size":                     float64(size),
			"science_utility_estimate": sue,
			"priority_bin":             float64(bin),
			"downlink_state":           float64(dlState),
		})
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		if err := mergeMetadata(db, id, pool[i]); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func mergeMetadata(db *sql.DB, asdpID int64, record ast.Record) error {
	rows, err := db.Query(`
		SELECT fieldname, type, value_int, value_float, value_string
		FROM METADATA WHERE asdp_id = ?`, asdpID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			field    string
			metaType int64
			vInt     sql.NullInt64
			vFloat   sql.NullFloat64
			vString  sql.NullString
		)
		if err := rows.Scan(&field, &metaType, &vInt, &vFloat, &vString); err != nil {
			return err
		}
		switch metaType {
		case metaInt:
			record[field] = float64(vInt.Int64)
		case metaFloat:
			record[field] = vFloat.Float64
		case metaString:
			record[field] = vString.String
		default:
			return fmt.Errorf("asdp %d: metadata field %q has unknown type %d", asdpID, field, metaType)
		}
	}
	return rows.Err()
}
