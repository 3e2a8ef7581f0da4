package relational

import (
	"fmt"
	"strings"

	"hermannm.dev/dashboard/db"
)

// The database does not permit colons in identifiers, so composite "source:column" keys are
// re-mapped to aliased identifiers inside queries and mapped back through an alias table on the
// way out. The alias table (rather than string splitting) is what makes the rename reversible
// regardless of what characters the names contain.
type aliasTable struct {
	byAlias map[string]db.ColumnKey
}

func newAliasTable() *aliasTable {
	return &aliasTable{byAlias: make(map[string]db.ColumnKey)}
}

func (aliases *aliasTable) alias(key db.ColumnKey) string {
	alias := key.Source + "__" + key.Column
	aliases.byAlias[alias] = key
	return alias
}

func (aliases *aliasTable) columnKey(alias string) (db.ColumnKey, bool) {
	key, found := aliases.byAlias[alias]
	return key, found
}

func validateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("blank identifier")
	}
	if strings.ContainsRune(identifier, '"') {
		return fmt.Errorf("'%s' contains \", which is incompatible with database", identifier)
	}
	return nil
}

func validateIdentifiers(identifiers ...string) error {
	for _, identifier := range identifiers {
		if err := validateIdentifier(identifier); err != nil {
			return err
		}
	}
	return nil
}

// Must only be called after validateIdentifier on the given identifier.
func quoteIdentifier(identifier string) string {
	return `"` + identifier + `"`
}

func validateColumnKey(key db.ColumnKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return validateIdentifiers(key.Source, key.Column)
}

// Must only be called after validateColumnKey on the given key.
func qualifiedColumn(key db.ColumnKey) string {
	return quoteIdentifier(key.Source) + "." + quoteIdentifier(key.Column)
}
