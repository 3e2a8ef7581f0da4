package relational

import (
	"fmt"
	"strconv"
	"time"

	"hermannm.dev/dashboard/db"
)

// normalizeDBValue maps driver-specific scan results to the value types the rest of the system
// works with.
func normalizeDBValue(value any) any {
	switch value := value.(type) {
	case []byte:
		return string(value)
	default:
		return value
	}
}

func stringifyDBValue(value any) string {
	switch value := value.(type) {
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// See https://www.sqlite.org/datatype3.html for sqlite's type affinity rules.
func dataTypeToSQL(dataType db.DataType) (string, error) {
	switch dataType {
	case db.DataTypeInt:
		return "INTEGER", nil
	case db.DataTypeFloat:
		return "REAL", nil
	case db.DataTypeText:
		return "TEXT", nil
	case db.DataTypeBool:
		return "BOOLEAN", nil
	case db.DataTypeDateTime:
		return "DATETIME", nil
	default:
		return "", fmt.Errorf("unrecognized data type '%v'", dataType)
	}
}

func sqlTypeToDataType(sqlType string) db.DataType {
	switch sqlType {
	case "INTEGER", "INT", "BIGINT":
		return db.DataTypeInt
	case "REAL", "FLOAT", "DOUBLE", "NUMERIC":
		return db.DataTypeFloat
	case "BOOLEAN":
		return db.DataTypeBool
	case "DATETIME", "TIMESTAMP", "DATE":
		return db.DataTypeDateTime
	default:
		return db.DataTypeText
	}
}
