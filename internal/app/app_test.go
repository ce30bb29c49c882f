package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "github.com/datagen/datagen/internal/api/grpc"
	"github.com/datagen/datagen/internal/config"
	"github.com/datagen/datagen/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop(context.Background()) })
	return a
}

func TestAppServesHTTPAndGRPC(t *testing.T) {
	a := startApp(t, testConfig(t))

	resp, err := http.Get("http://" + a.HTTPAddr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"fileType":"xml","fileSize":1,"properties":[{"name":"id","type":"number","primaryKey":true},{"name":"bio","type":"string"}]}`
	resp, err = http.Post("http://"+a.HTTPAddr()+"/v1/generate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, 3495, bytes.Count(data, []byte("<record>")))
	assert.True(t, bytes.HasSuffix(data, []byte("</records>")))

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	_, _, err = grpcapi.NewClient(conn).Generate(context.Background(), types.GenerateRequest{
		FileType:   types.FileTypeCSV,
		FileSize:   1,
		Properties: types.Schema{{Name: "id", Type: types.FieldUUID, PrimaryKey: true}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 10486, bytes.Count(out.Bytes(), []byte("\n")))

	require.Eventually(t, func() bool {
		var completed int64
		for _, f := range a.Stats().Snapshot().Formats {
			completed += f.Completed
		}
		return completed == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAppWithoutExportsOrGRPC(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = false
	cfg.Exports.Enabled = false
	a := startApp(t, cfg)
	assert.Empty(t, a.GRPCAddr())

	resp, err := http.Get("http://" + a.HTTPAddr() + "/v1/exports")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.FlushEvery = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestAppStopRejectsNewWork(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	addr := a.HTTPAddr()
	require.NoError(t, a.Stop(context.Background()))

	_, err = http.Get("http://" + addr + "/health")
	assert.Error(t, err)
	assert.NoError(t, a.Stop(context.Background()))
}
