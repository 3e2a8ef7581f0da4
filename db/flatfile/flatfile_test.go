package flatfile_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hermannm.dev/dashboard/db"
	"hermannm.dev/dashboard/db/flatfile"
)

const penguinSizeCSV = `study_name,sex,species,culmen_length_mm
PAL0708,FEMALE,Adelie,38.9
PAL0708,MALE,Adelie,39.2
PAL0809,FEMALE,Gentoo,45.1
PAL0809,MALE,Gentoo,46.5
PAL0910,FEMALE,Chinstrap,47.5
`

// Matches the first 3 rows of penguin_size on (study_name, sex, species).
const meanPenguinStatCSV = `study_name,sex,species,delta_15_n
PAL0708,FEMALE,Adelie,8.95
PAL0708,MALE,Adelie,8.38
PAL0809,FEMALE,Gentoo,8.22
`

func writeFixtureFile(t *testing.T, baseDir string, source string, name string, content string) {
	t.Helper()

	dir := filepath.Join(baseDir, source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}
}

func penguinBackend(t *testing.T) *flatfile.Backend {
	t.Helper()

	baseDir := t.TempDir()
	writeFixtureFile(t, baseDir, "penguin_size", "penguin_size.csv", penguinSizeCSV)
	writeFixtureFile(t, baseDir, "mean_penguin_stat", "mean_penguin_stat.csv", meanPenguinStatCSV)

	backend, err := flatfile.NewBackend(baseDir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend
}

func penguinJoinDescriptor() db.DataSourceDescriptor {
	joinColumns := []string{"study_name", "sex", "species"}
	joinKeys := make([]db.JoinKey, 0, len(joinColumns))
	for _, column := range joinColumns {
		joinKeys = append(joinKeys, db.JoinKey{
			Left:  db.NewColumnKey("penguin_size", column),
			Right: db.NewColumnKey("mean_penguin_stat", column),
		})
	}

	return db.DataSourceDescriptor{
		MainSource: "penguin_size",
		AdditionalSources: []db.AdditionalSource{
			{Source: "mean_penguin_stat", JoinKeys: joinKeys},
		},
	}
}

func newTranslator(t *testing.T, backend *flatfile.Backend, descriptor db.DataSourceDescriptor) db.QueryTranslator {
	t.Helper()

	translator, err := backend.NewQueryTranslator(
		context.Background(), db.NewQueryContext(descriptor),
	)
	if err != nil {
		t.Fatalf("failed to create query translator: %v", err)
	}
	return translator
}

func TestLeftJoinKeepsAllMainSourceRows(t *testing.T) {
	backend := penguinBackend(t)
	translator := newTranslator(t, backend, penguinJoinDescriptor())

	table, err := translator.GetColumnData(
		context.Background(),
		[]db.ColumnKey{
			db.NewColumnKey("penguin_size", "culmen_length_mm"),
			db.NewColumnKey("mean_penguin_stat", "delta_15_n"),
		},
		nil,
	)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if table.NumRows() != 5 {
		t.Fatalf("expected left join to keep all 5 main source rows, got %d", table.NumRows())
	}

	nullCount := 0
	for _, row := range table.Rows {
		if row[1] == nil {
			nullCount++
		}
	}
	if nullCount != 2 {
		t.Errorf("expected 2 rows with null join values, got %d", nullCount)
	}
}

func TestShowAllFilterEquivalentToNoFilter(t *testing.T) {
	backend := penguinBackend(t)
	columns := []db.ColumnKey{db.NewColumnKey("penguin_size", "species")}
	descriptor := db.DataSourceDescriptor{MainSource: "penguin_size"}

	unfiltered, err := newTranslator(t, backend, descriptor).GetColumnData(
		context.Background(), columns, nil,
	)
	if err != nil {
		t.Fatalf("unfiltered query failed: %v", err)
	}

	showAllFiltered, err := newTranslator(t, backend, descriptor).GetColumnData(
		context.Background(),
		columns,
		[]db.Filter{db.EqualityFilter{
			Column: db.NewColumnKey("penguin_size", "sex"),
			Values: []string{db.ShowAll},
		}},
	)
	if err != nil {
		t.Fatalf("show-all query failed: %v", err)
	}

	if unfiltered.NumRows() != showAllFiltered.NumRows() {
		t.Errorf(
			"expected show-all filter to contribute no predicate: %d rows vs %d",
			showAllFiltered.NumRows(),
			unfiltered.NumRows(),
		)
	}
}

func TestEqualityFilter(t *testing.T) {
	backend := penguinBackend(t)
	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

	table, err := translator.GetColumnData(
		context.Background(),
		[]db.ColumnKey{db.NewColumnKey("penguin_size", "species")},
		[]db.Filter{db.EqualityFilter{
			Column: db.NewColumnKey("penguin_size", "sex"),
			Values: []string{"FEMALE"},
		}},
	)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if table.NumRows() != 3 {
		t.Errorf("expected 3 female rows, got %d", table.NumRows())
	}
}

func TestNumericFilter(t *testing.T) {
	backend := penguinBackend(t)
	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

	table, err := translator.GetColumnData(
		context.Background(),
		[]db.ColumnKey{db.NewColumnKey("penguin_size", "culmen_length_mm")},
		[]db.Filter{db.NumericFilter{
			Column:   db.NewColumnKey("penguin_size", "culmen_length_mm"),
			Operator: db.OperatorGreaterOrEqual,
			Value:    45.0,
		}},
	)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if table.NumRows() != 3 {
		t.Errorf("expected 3 rows with culmen length >= 45, got %d", table.NumRows())
	}
	for _, row := range table.Rows {
		length, isFloat := row[0].(float64)
		if !isFloat || length < 45 {
			t.Errorf("unexpected culmen length in filtered result: %v", row[0])
		}
	}
}

func TestMatchFilterRejected(t *testing.T) {
	backend := penguinBackend(t)
	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

	_, err := translator.GetColumnData(
		context.Background(),
		[]db.ColumnKey{db.NewColumnKey("penguin_size", "species")},
		[]db.Filter{db.MatchFilter{
			Fields: []db.ColumnKey{db.NewColumnKey("penguin_size", "species")},
			Query:  "Adelie",
		}},
	)
	if err == nil {
		t.Fatal("expected flat-file backend to reject match filters")
	}

	var configurationError db.ConfigurationError
	if !errors.As(err, &configurationError) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestUnknownColumnGivesSchemaMismatch(t *testing.T) {
	backend := penguinBackend(t)
	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

	_, err := translator.GetColumnData(
		context.Background(),
		[]db.ColumnKey{db.NewColumnKey("penguin_size", "dropped_column")},
		nil,
	)
	if err == nil {
		t.Fatal("expected error for unknown column")
	}

	var schemaMismatch db.SchemaMismatchError
	if !errors.As(err, &schemaMismatch) {
		t.Fatalf("expected SchemaMismatchError, got %T", err)
	}
	if schemaMismatch.Column.Column != "dropped_column" {
		t.Errorf("unexpected column in schema mismatch error: %v", schemaMismatch.Column)
	}
}

func TestUniqueEntriesNarrowedByFilteredSelector(t *testing.T) {
	backend := penguinBackend(t)
	speciesColumn := db.NewColumnKey("penguin_size", "species")
	maleFilter := db.EqualityFilter{
		Column: db.NewColumnKey("penguin_size", "sex"),
		Values: []string{"MALE"},
	}

	t.Run("unfiltered without flag", func(t *testing.T) {
		translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

		uniqueEntries, err := translator.GetColumnUniqueEntries(
			context.Background(),
			[]db.ColumnKey{speciesColumn},
			[]db.Filter{
				db.EqualityFilter{Column: speciesColumn, Values: []string{db.ShowAll}},
				maleFilter,
			},
		)
		if err != nil {
			t.Fatalf("unique entry query failed: %v", err)
		}

		if len(uniqueEntries[speciesColumn]) != 3 {
			t.Errorf(
				"expected all 3 species without filtered selector flag, got %v",
				uniqueEntries[speciesColumn],
			)
		}
	})

	t.Run("narrowed by siblings with flag", func(t *testing.T) {
		translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})

		uniqueEntries, err := translator.GetColumnUniqueEntries(
			context.Background(),
			[]db.ColumnKey{speciesColumn},
			[]db.Filter{
				db.EqualityFilter{
					Column:           speciesColumn,
					Values:           []string{db.ShowAll},
					FilteredSelector: true,
				},
				maleFilter,
			},
		)
		if err != nil {
			t.Fatalf("unique entry query failed: %v", err)
		}

		// No male Chinstrap rows in the fixture.
		entries := uniqueEntries[speciesColumn]
		if len(entries) != 2 || entries[0] != "Adelie" || entries[1] != "Gentoo" {
			t.Errorf("expected narrowing to male rows' species, got %v", entries)
		}
	})
}

func TestUniqueValueCapOmitsHighCardinalityColumns(t *testing.T) {
	baseDir := t.TempDir()

	var builder strings.Builder
	builder.WriteString("id,category\n")
	for i := 0; i < db.UniqueValueCap+1; i++ {
		fmt.Fprintf(&builder, "id_%d,small\n", i)
	}
	writeFixtureFile(t, baseDir, "wide", "wide.csv", builder.String())

	backend, err := flatfile.NewBackend(baseDir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	uniqueValues, err := backend.UniqueValues(
		context.Background(),
		[]db.ColumnKey{
			db.NewColumnKey("wide", "id"),
			db.NewColumnKey("wide", "category"),
		},
		true,
	)
	if err != nil {
		t.Fatalf("unique value query failed: %v", err)
	}

	if _, present := uniqueValues[db.NewColumnKey("wide", "id")]; present {
		t.Error("expected column exceeding the cardinality cap to be omitted")
	}
	if values := uniqueValues[db.NewColumnKey("wide", "category")]; len(values) != 1 {
		t.Errorf("expected low-cardinality column to be returned, got %v", values)
	}
}

func TestActiveFileAllowlist(t *testing.T) {
	baseDir := t.TempDir()
	writeFixtureFile(t, baseDir, "penguin_size", "batch_1.csv", penguinSizeCSV)
	writeFixtureFile(
		t, baseDir, "penguin_size", "batch_2.csv",
		"study_name,sex,species,culmen_length_mm\nPAL1011,FEMALE,Adelie,40.1\n",
	)

	backend, err := flatfile.NewBackend(baseDir, flatfile.WithActiveFiles(
		map[string][]string{"penguin_size": {"batch_2.csv"}},
	))
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})
	table, err := translator.GetTableData(context.Background(), nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if table.NumRows() != 1 {
		t.Errorf("expected only the allowlisted file's rows, got %d rows", table.NumRows())
	}
}

func TestWriteDataUpload(t *testing.T) {
	baseDir := t.TempDir()
	writeFixtureFile(t, baseDir, "penguin_size", "penguin_size.csv", penguinSizeCSV)

	backend, err := flatfile.NewBackend(baseDir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	schema := db.TableSchema{Columns: []db.Column{
		{Name: "study_name", DataType: db.DataTypeText},
		{Name: "sex", DataType: db.DataTypeText},
		{Name: "species", DataType: db.DataTypeText},
		{Name: "culmen_length_mm", DataType: db.DataTypeFloat},
	}}

	upload, err := backend.WriteDataUpload(
		context.Background(),
		"penguin_size",
		schema,
		&sliceDataSource{rows: [][]string{{"PAL1011", "MALE", "Adelie", "41.3"}}},
		"tester",
		"second batch",
	)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if upload.UploadID != 2 {
		t.Errorf("expected upload ID 2 for source with one existing file, got %d", upload.UploadID)
	}
	if !upload.Active {
		t.Error("expected new uploads to be marked active")
	}

	translator := newTranslator(t, backend, db.DataSourceDescriptor{MainSource: "penguin_size"})
	table, err := translator.GetTableData(context.Background(), nil)
	if err != nil {
		t.Fatalf("query after upload failed: %v", err)
	}
	if table.NumRows() != 6 {
		t.Errorf("expected 6 rows after upload, got %d", table.NumRows())
	}
}

func TestWriteDataUploadIgnoresAllowlistForUploadID(t *testing.T) {
	baseDir := t.TempDir()
	writeFixtureFile(t, baseDir, "penguin_size", "batch_1.csv", penguinSizeCSV)
	writeFixtureFile(
		t, baseDir, "penguin_size", "batch_2.csv",
		"study_name,sex,species,culmen_length_mm\nPAL1011,FEMALE,Adelie,40.1\n",
	)

	backend, err := flatfile.NewBackend(baseDir, flatfile.WithActiveFiles(
		map[string][]string{"penguin_size": {"batch_2.csv"}},
	))
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	schema := db.TableSchema{Columns: []db.Column{
		{Name: "study_name", DataType: db.DataTypeText},
		{Name: "sex", DataType: db.DataTypeText},
		{Name: "species", DataType: db.DataTypeText},
		{Name: "culmen_length_mm", DataType: db.DataTypeFloat},
	}}

	upload, err := backend.WriteDataUpload(
		context.Background(),
		"penguin_size",
		schema,
		&sliceDataSource{rows: [][]string{{"PAL1112", "MALE", "Gentoo", "46.2"}}},
		"tester",
		"",
	)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	// Both existing files count towards the next upload ID, even though the allowlist excludes
	// one of them: reusing an excluded file's ID could collide on the generated file name.
	if upload.UploadID != 3 {
		t.Errorf(
			"expected upload ID 3 for source with two existing files, got %d", upload.UploadID,
		)
	}
}

func TestWriteDataUploadRejectsInvalidRows(t *testing.T) {
	baseDir := t.TempDir()
	writeFixtureFile(t, baseDir, "penguin_size", "penguin_size.csv", penguinSizeCSV)

	backend, err := flatfile.NewBackend(baseDir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	schema := db.TableSchema{Columns: []db.Column{
		{Name: "study_name", DataType: db.DataTypeText},
		{Name: "culmen_length_mm", DataType: db.DataTypeFloat},
	}}

	_, err = backend.WriteDataUpload(
		context.Background(),
		"penguin_size",
		schema,
		&sliceDataSource{rows: [][]string{
			{"PAL1011", "41.3"},
			{"PAL1011", "not_a_number"},
		}},
		"tester",
		"",
	)
	if err == nil {
		t.Fatal("expected upload with invalid row to fail")
	}

	// The invalid batch must not leave a partial file behind.
	entries, readErr := os.ReadDir(filepath.Join(baseDir, "penguin_size"))
	if readErr != nil {
		t.Fatalf("failed to read source directory: %v", readErr)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the original file after failed upload, found %d", len(entries))
	}
}

// sliceDataSource implements db.DataSource over in-memory rows.
type sliceDataSource struct {
	rows []([]string)
	next int
}

func (source *sliceDataSource) ReadRow() (row []string, rowNumber int, done bool, err error) {
	if source.next >= len(source.rows) {
		return nil, source.next, true, nil
	}
	row = source.rows[source.next]
	source.next++
	return row, source.next, false, nil
}
