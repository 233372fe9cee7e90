package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. Scan is on pointer receivers; Value is
// on value receivers.
var (
	_ sql.Scanner   = (*Preferences)(nil)
	_ driver.Valuer = Preferences{}
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *Preferences) Scan(value interface{}) error {
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}
