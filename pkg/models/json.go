package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON is a raw JSON document stored in one column. Bare scalars survive a
// round trip even where the driver hands numeric text back as a number.
type JSON []byte

// MarshalJSON emits the document as is.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (j *JSON) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append(JSON(nil), x...)
	case string:
		*j = JSON(x)
	case int64:
		*j = JSON(strconv.FormatInt(x, 10))
	case float64:
		*j = JSON(strconv.FormatFloat(x, 'g', -1, 64))
	case bool:
		*j = JSON(strconv.FormatBool(x))
	default:
		return fmt.Errorf("scan JSON column: unsupported type %T", v)
	}
	return nil
}

func (JSON) GormDataType() string { return "json" }

// GormDBDataType uses native JSON columns where the database has them and
// TEXT elsewhere, so SQLite does not apply numeric affinity to the value.
func (JSON) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	default:
		return "TEXT"
	}
}
