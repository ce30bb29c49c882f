package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datagen/datagen/internal/config"
	"github.com/datagen/datagen/pkg/types"
)

func TestParseFieldSpec(t *testing.T) {
	field, err := parseFieldSpec("id:UUID:pk")
	require.NoError(t, err)
	assert.Equal(t, types.FieldSpec{Name: "id", Type: types.FieldUUID, PrimaryKey: true}, field)

	field, err = parseFieldSpec("email:email")
	require.NoError(t, err)
	assert.False(t, field.PrimaryKey)

	for _, bad := range []string{"id", "a:b:c:d", "id:uuid:key"} {
		_, err := parseFieldSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- name: id\n  type: number\n  primaryKey: true\n- name: city\n  type: string\n"), 0o644))
	schema, err := loadSchemaFile(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "city"}, schema.Names())
	assert.True(t, schema[0].PrimaryKey)

	doc := filepath.Join(dir, "request.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"fileType":"csv","properties":[{"name":"id","type":"uuid","primaryKey":true}]}`), 0o644))
	schema, err = loadSchemaFile(doc)
	require.NoError(t, err)
	require.Len(t, schema, 1)
	assert.Equal(t, types.FieldUUID, schema[0].Type)

	_, err = loadSchemaFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestGenerateLocalToFile(t *testing.T) {
	req := types.GenerateRequest{
		FileType:   types.FileTypeCSV,
		FileSize:   1,
		Properties: types.Schema{{Name: "id", Type: types.FieldUUID, PrimaryKey: true}},
	}

	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "out.csv")
		out, err := openOutput(path, compress)
		require.NoError(t, err)
		require.NoError(t, generateLocal(context.Background(), config.DefaultConfig(), req, out))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		if compress {
			data, err = io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
			require.NoError(t, err)
		}
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		assert.Equal(t, "id", lines[0])
		assert.Len(t, lines[1:], 10485)
	}
}
