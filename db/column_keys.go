package db

import (
	"fmt"
	"strings"
)

// ColumnKeySeparator joins a source name and a column name into the composite column key format
// used across the query contract, e.g. "penguin_size:culmen_length_mm".
const ColumnKeySeparator = ":"

// ColumnKey identifies a column within a query context, qualified by the data source it belongs
// to. It crosses the translator boundary in its encoded "source:column" form, but is kept
// structured internally so that backends with stricter identifier rules can re-map it and still
// recover the original key on the way out.
type ColumnKey struct {
	Source string
	Column string
}

func NewColumnKey(source string, column string) ColumnKey {
	return ColumnKey{Source: source, Column: column}
}

func (key ColumnKey) Encode() string {
	return key.Source + ColumnKeySeparator + key.Column
}

func ParseColumnKey(encoded string) (ColumnKey, error) {
	source, column, found := strings.Cut(encoded, ColumnKeySeparator)
	if !found {
		return ColumnKey{}, fmt.Errorf(
			"column key '%s' does not contain separator '%s'", encoded, ColumnKeySeparator,
		)
	}
	if strings.Contains(column, ColumnKeySeparator) {
		return ColumnKey{}, fmt.Errorf(
			"column key '%s' contains more than one separator '%s'", encoded, ColumnKeySeparator,
		)
	}

	key := ColumnKey{Source: source, Column: column}
	if err := key.Validate(); err != nil {
		return ColumnKey{}, err
	}

	return key, nil
}

func (key ColumnKey) Validate() error {
	if key.Source == "" {
		return fmt.Errorf("column key '%s' has blank source name", key.Encode())
	}
	if key.Column == "" {
		return fmt.Errorf("column key '%s' has blank column name", key.Encode())
	}
	if strings.Contains(key.Source, ColumnKeySeparator) {
		return fmt.Errorf(
			"source name '%s' contains reserved separator '%s'", key.Source, ColumnKeySeparator,
		)
	}
	if strings.Contains(key.Column, ColumnKeySeparator) {
		return fmt.Errorf(
			"column name '%s' contains reserved separator '%s'", key.Column, ColumnKeySeparator,
		)
	}
	return nil
}

func ValidateColumnKeys(keys ...ColumnKey) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (key ColumnKey) String() string {
	return key.Encode()
}

// Implements encoding.TextMarshaler, so ColumnKey can be used as a JSON map key.
func (key ColumnKey) MarshalText() ([]byte, error) {
	return []byte(key.Encode()), nil
}

// Implements encoding.TextUnmarshaler.
func (key *ColumnKey) UnmarshalText(bytes []byte) error {
	parsed, err := ParseColumnKey(string(bytes))
	if err != nil {
		return err
	}
	*key = parsed
	return nil
}
