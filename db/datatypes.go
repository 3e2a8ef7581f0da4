package db

import (
	"hermannm.dev/enumnames"
)

type DataType uint8

const (
	DataTypeText DataType = iota + 1
	DataTypeInt
	DataTypeFloat
	DataTypeBool
	DataTypeDateTime
)

var dataTypeNames = enumnames.NewMap(map[DataType]string{
	DataTypeText:     "TEXT",
	DataTypeInt:      "INTEGER",
	DataTypeFloat:    "FLOAT",
	DataTypeBool:     "BOOLEAN",
	DataTypeDateTime: "DATETIME",
})

func (dataType DataType) IsValid() bool {
	return dataTypeNames.ContainsEnumValue(dataType)
}

// Range filters only make sense for types with a total order.
func (dataType DataType) IsRangeEligible() bool {
	switch dataType {
	case DataTypeInt, DataTypeFloat, DataTypeDateTime:
		return true
	default:
		return false
	}
}

func (dataType DataType) String() string {
	return dataTypeNames.GetNameOrFallback(dataType, "INVALID_DATA_TYPE")
}

func (dataType DataType) MarshalJSON() ([]byte, error) {
	return dataTypeNames.MarshalToNameJSON(dataType)
}

func (dataType *DataType) UnmarshalJSON(bytes []byte) error {
	return dataTypeNames.UnmarshalFromNameJSON(bytes, dataType)
}
