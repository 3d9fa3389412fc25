package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/backend/memory"
	redisbackend "github.com/conduit-lang/entrymap/internal/backend/redis"
	sqlbackend "github.com/conduit-lang/entrymap/internal/backend/sql"
	"github.com/conduit-lang/entrymap/internal/cli/config"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
)

// useMemoryBackend makes every command share one in-process backend
func useMemoryBackend(t *testing.T) *memory.Backend {
	t.Helper()
	b := memory.New()

	prev := backendOpener
	backendOpener = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, func() error, error) {
		return b, func() error { return nil }, nil
	}
	t.Cleanup(func() { backendOpener = prev })

	path := filepath.Join(t.TempDir(), "entrymap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644))
	configPath = path
	t.Cleanup(func() { configPath = "" })

	noColor = true
	color.NoColor = true
	return b
}

func seedPeople(t *testing.T, b *memory.Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Persist(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "bob"),
		attribute.NewMultiValued("mail", true, "bob@x.org", "b@x.org"),
	}, 0))
	require.NoError(t, b.Persist(ctx, "uid=ann,ou=people,o=jans", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "ann"),
	}, 0))
	require.NoError(t, b.Persist(ctx, "inum=1,ou=groups,o=jans", []string{"jansGroup"}, []*attribute.Data{
		attribute.New("inum", "1"),
	}, 0))
}

// execute runs a command's RunE with captured output
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	err := cmd.RunE(cmd, args)
	return out.String(), errOut.String(), err
}

func TestKeyCommand(t *testing.T) {
	useMemoryBackend(t)

	cmd := NewKeyCommand()
	out, _, err := execute(cmd, "uid=bob,ou=people,o=acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Key: people_bob")
	assert.Contains(t, out, "Name: uid")
	assert.Contains(t, out, "Scope: acme")

	cmd = NewKeyCommand()
	outputFormat = "json"
	out, _, err = execute(cmd, "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]string{"key": "people_bob", "name": "uid", "orgScope": ""}, got)
}

func TestKeyCommandLeafOnly(t *testing.T) {
	useMemoryBackend(t)

	cmd := NewKeyCommand()
	require.NoError(t, cmd.Flags().Set("all-rdn", "false"))
	out, _, err := execute(cmd, "uid=bob,ou=people,o=acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Key: bob\n")
}

func TestKeyCommandInvalid(t *testing.T) {
	useMemoryBackend(t)

	_, errOut, err := execute(NewKeyCommand(), "bob")
	require.Error(t, err)
	assert.Contains(t, errOut, "INVALID KEY")
	assert.Contains(t, errOut, `segment "bob" has no '='`)
}

func TestGetCommand(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	out, _, err := execute(NewGetCommand(), "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"dn: uid=bob,ou=people,o=jans",
		"  mail:        bob@x.org; b@x.org",
		"  objectClass: jansPerson",
		"  uid:         bob",
		"",
	}, "\n"), out)

	cmd := NewGetCommand()
	outputFormat = "json"
	attrsFlag = []string{"uid"}
	defer func() { attrsFlag = nil }()

	out, _, err = execute(cmd, "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	var got struct {
		DN         string              `json:"dn"`
		Attributes map[string][]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "uid=bob,ou=people,o=jans", got.DN)
	assert.Equal(t, map[string][]string{"uid": {"bob"}}, got.Attributes)
}

func TestGetCommandNotFound(t *testing.T) {
	useMemoryBackend(t)

	_, errOut, err := execute(NewGetCommand(), "uid=none,ou=people,o=jans")
	require.Error(t, err)
	assert.True(t, crud.IsNotFound(err))
	assert.Contains(t, errOut, "ENTRY NOT FOUND")
	assert.Contains(t, errOut, "uid=none,ou=people,o=jans")
}

func TestSearchCommand(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	cmd := NewSearchCommand()
	objectClassFlags = []string{"jansPerson"}
	defer func() { objectClassFlags = nil }()

	out, _, err := execute(cmd, "ou=people,o=jans")
	require.NoError(t, err)
	ann := strings.Index(out, "dn: uid=ann,ou=people,o=jans")
	bob := strings.Index(out, "dn: uid=bob,ou=people,o=jans")
	require.True(t, ann >= 0 && bob >= 0, out)
	assert.Less(t, ann, bob)
	assert.NotContains(t, out, "inum=1")

	cmd = NewSearchCommand()
	filterFlags = []string{"uid=bob"}
	defer func() { filterFlags = nil }()
	out, _, err = execute(cmd, "o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "uid=bob")
	assert.NotContains(t, out, "uid=ann")
}

func TestSearchCommandTable(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	cmd := NewSearchCommand()
	outputFormat = "table"
	filterFlags = []string{"uid=bob"}
	defer func() { filterFlags = nil }()

	out, _, err := execute(cmd, "ou=people,o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "DN                        ATTRIBUTE    VALUES\n")
	assert.Contains(t, out, "uid=bob,ou=people,o=jans  mail         bob@x.org; b@x.org\n")
	assert.Contains(t, out, "                          objectClass  jansPerson\n")
	assert.NotContains(t, out, "dn: ")
}

func TestSearchCommandCount(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	cmd := NewSearchCommand()
	countFlag = true
	defer func() { countFlag = false }()

	out, _, err := execute(cmd, "o=jans")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestSearchCommandScope(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	cmd := NewSearchCommand()
	scopeFlag = "one"
	countFlag = true
	defer func() { countFlag = false }()
	out, _, err := execute(cmd, "ou=people,o=jans")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	cmd = NewSearchCommand()
	scopeFlag = "base"
	out, _, err = execute(cmd, "uid=ann,ou=people,o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "dn: uid=ann,ou=people,o=jans")
	assert.NotContains(t, out, "uid=bob")

	cmd = NewSearchCommand()
	scopeFlag = "children"
	_, errOut, err := execute(cmd, "o=jans")
	require.Error(t, err)
	assert.Contains(t, errOut, "--scope one")
}

func TestSearchCommandEmpty(t *testing.T) {
	useMemoryBackend(t)

	out, _, err := execute(NewSearchCommand(), "ou=people,o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "No entries below ou=people,o=jans")
}

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name       string
		conditions []string
		want       string
		wantErr    bool
	}{
		{name: "none"},
		{name: "single", conditions: []string{"uid=bob"}, want: "(uid=bob)"},
		{name: "and", conditions: []string{"uid=bob", "jansState=active"}, want: "(&(uid=bob)(jansState=active))"},
		{name: "value with equals", conditions: []string{"note=a=b"}, want: "(note=a=b)"},
		{name: "missing value", conditions: []string{"uid"}, wantErr: true},
		{name: "missing name", conditions: []string{"=bob"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := parseFilters(tt.conditions)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, filter)
				return
			}
			assert.Equal(t, tt.want, filter.String())
		})
	}
}

func TestRemoveCommand(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	out, _, err := execute(NewRemoveCommand(), "uid=ann,ou=people,o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Removed uid=ann,ou=people,o=jans")
	assert.Equal(t, 2, b.Len())

	_, errOut, err := execute(NewRemoveCommand(), "uid=ann,ou=people,o=jans")
	assert.True(t, crud.IsNotFound(err))
	assert.Contains(t, errOut, "ENTRY NOT FOUND")

	cmd := NewRemoveCommand()
	recursiveFlag = true
	yesFlag = true
	defer func() { recursiveFlag, yesFlag = false, false }()
	out, _, err = execute(cmd, "ou=people,o=jans")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Removed ou=people,o=jans and the entries below it")
	assert.Equal(t, 1, b.Len())
}

func TestRemoveRecursiveConfirmation(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	var asked []string
	answer := false
	saved := confirmRemoval
	confirmRemoval = func(_ io.Reader, dn string, count int) (bool, error) {
		asked = append(asked, fmt.Sprintf("%s %d", dn, count))
		return answer, nil
	}
	defer func() { confirmRemoval = saved }()

	cmd := NewRemoveCommand()
	recursiveFlag = true
	defer func() { recursiveFlag = false }()
	_, errOut, err := execute(cmd, "ou=people,o=jans")
	assert.ErrorIs(t, err, ErrRemovalDeclined)
	assert.Contains(t, errOut, "--recursive --yes")
	assert.Equal(t, 3, b.Len())

	cmd = NewRemoveCommand()
	recursiveFlag = true
	answer = true
	_, _, err = execute(cmd, "ou=people,o=jans")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []string{"ou=people,o=jans 2", "ou=people,o=jans 2"}, asked)
}

func TestRemoveRecursiveWithoutTerminal(t *testing.T) {
	b := useMemoryBackend(t)
	seedPeople(t, b)

	cmd := NewRemoveCommand()
	cmd.SetIn(strings.NewReader("y\n"))
	recursiveFlag = true
	defer func() { recursiveFlag = false }()
	_, _, err := execute(cmd, "ou=people,o=jans")
	assert.ErrorIs(t, err, ErrRemovalDeclined)
	assert.Equal(t, 3, b.Len())
}

const importDocuments = `[
  {"dn": "uid=bob,ou=people,o=jans", "objectClasses": ["jansPerson"],
   "attributes": [{"name": "uid", "values": ["bob"]}, {"name": "mail", "values": ["a@x", "b@x"], "multiValued": true}]},
  {"dn": "uid=ann,ou=people,o=jans", "objectClasses": ["jansPerson"],
   "attributes": [{"name": "uid", "values": ["ann"]}, {"name": "age", "values": [42]}]}
]`

func TestImportCommand(t *testing.T) {
	b := useMemoryBackend(t)

	path := filepath.Join(t.TempDir(), "people.json")
	require.NoError(t, os.WriteFile(path, []byte(importDocuments), 0o644))

	out, errOut, err := execute(NewImportCommand(), path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Imported 2 entries")
	assert.Contains(t, errOut, "Importing entries [")
	assert.True(t, strings.HasSuffix(errOut, "] 2/2\n"), errOut)

	data, err := b.Find(context.Background(), "uid=ann,ou=people,o=jans", nil, nil)
	require.NoError(t, err)
	byName := attribute.Map(data)
	assert.Equal(t, []any{int64(42)}, byName["age"].Values)
	assert.Equal(t, []string{"jansPerson"}, byName["objectclass"].StringValues())

	_, _, err = execute(NewImportCommand(), path)
	assert.True(t, crud.IsEntryExists(err))

	cmd := NewImportCommand()
	skipExistingFlag = true
	defer func() { skipExistingFlag = false }()
	out, _, err = execute(cmd, path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Imported 0 entries (2 skipped)")
}

func TestImportCommandStdin(t *testing.T) {
	b := useMemoryBackend(t)

	cmd := NewImportCommand()
	cmd.SetIn(strings.NewReader(importDocuments))
	_, _, err := execute(cmd, "-")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
}

func TestImportCommandInvalidFile(t *testing.T) {
	useMemoryBackend(t)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, errOut, err := execute(NewImportCommand(), path)
	require.Error(t, err)
	assert.Contains(t, errOut, "failed to parse")
}

func TestExpireCommandNonSQL(t *testing.T) {
	useMemoryBackend(t)

	cmd := NewExpireCommand()
	objectClassFlags = []string{"jansSessn"}
	defer func() { objectClassFlags = nil }()

	out, _, err := execute(cmd)
	require.NoError(t, err)
	assert.Contains(t, out, "The memory backend expires entries itself")
}

func TestExpireCommandSQL(t *testing.T) {
	useMemoryBackend(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	backendOpener = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, func() error, error) {
		return sqlbackend.New(db, sqlbackend.Postgres), func() error { return nil }, nil
	}

	mock.ExpectExec(`DELETE FROM "jansSessId" WHERE "exp" IS NOT NULL`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM "jansToken" WHERE "exp" IS NOT NULL`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cmd := NewExpireCommand()
	objectClassFlags = []string{"jansSessId", "jansToken"}
	defer func() { objectClassFlags = nil }()

	out, _, err := execute(cmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 3 expired jansSessId entries")
	assert.Contains(t, out, "Removed 0 expired jansToken entries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverName(t *testing.T) {
	tests := map[string]string{
		"pgx":        "pgx",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"sqlite":     "sqlite3",
		"SQLite3":    "sqlite3",
	}
	for in, want := range tests {
		assert.Equal(t, want, driverName(in), in)
	}
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	b, closer, err := openBackend(ctx, &config.Config{Backend: config.BackendConfig{Type: config.BackendMemory}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
	assert.NoError(t, closer())

	_, _, err = openBackend(ctx, &config.Config{Backend: config.BackendConfig{
		Type: config.BackendSQL,
		SQL:  config.SQLConfig{Driver: "mysql", DSN: "root@/entries"},
	}}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported sql driver")

	mr := miniredis.RunT(t)
	b, closer, err = openBackend(ctx, &config.Config{Backend: config.BackendConfig{
		Type:  config.BackendRedis,
		Redis: config.RedisConfig{Addr: mr.Addr(), Prefix: "cli:"},
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &redisbackend.Backend{}, b)

	require.NoError(t, b.Persist(ctx, "uid=bob,ou=people,o=jans", nil, nil, 0))
	assert.True(t, mr.Exists("cli:bob"))
	assert.NoError(t, closer())
}

func TestConfigErrorSuggestion(t *testing.T) {
	useMemoryBackend(t)
	require.NoError(t, os.WriteFile(configPath, []byte("backend:\n  type: redsi\n"), 0o644))

	_, errOut, err := execute(NewGetCommand(), "uid=bob,ou=people,o=jans")
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
	assert.Contains(t, errOut, "CONFIGURATION ERROR")
	assert.Contains(t, errOut, "try: backend.type: redis")
}
