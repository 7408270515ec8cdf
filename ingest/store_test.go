package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormStore_UploadLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	found, err := store.FindCompletedUpload(ctx, "logs.zip")
	require.NoError(t, err)
	assert.Nil(t, found)

	u := &Upload{UploadID: "u-1", Filename: "logs.zip", ContentHash: "abc"}
	require.NoError(t, store.BeginUpload(ctx, u))
	assert.Equal(t, StatusProcessing, u.Status)

	// still processing: not a duplicate yet
	found, err = store.FindCompletedUpload(ctx, "logs.zip")
	require.NoError(t, err)
	assert.Nil(t, found)

	counts := UploadCounts{DevicesFound: 2, DevicesProcessed: 2, CredentialsCount: 3}
	require.NoError(t, store.FinishUpload(ctx, "u-1", UploadOutcome{
		Status:    StatusCompleted,
		Structure: StructurePreDirectory,
		Counts:    counts,
	}))

	found, err = store.FindCompletedUpload(ctx, "logs.zip")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "u-1", found.UploadID)
	assert.Equal(t, string(StructurePreDirectory), found.StructureType)
	assert.Equal(t, 3, found.CredentialsCount)
	assert.NotNil(t, found.CompletedAt)

	list, err := store.ListUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusCompleted, list[0].Status)
}

func TestGormStore_WriteBatchAndKnownDevices(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.BeginUpload(ctx, &Upload{UploadID: "u-1", Filename: "a.zip"}))

	keyA, keyB := DeviceKey("A"), DeviceKey("B")
	require.NoError(t, store.WriteBatch(ctx, &RecordBatch{
		Devices:     []Device{{DeviceID: keyA, DeviceName: "A", UploadID: "u-1"}},
		Credentials: []Credential{{DeviceID: keyA, UploadID: "u-1", URL: "https://x.example.com", Username: "u", Password: "p"}},
		Software:    []Software{{DeviceID: keyA, UploadID: "u-1", SoftwareName: "Paint"}},
		Files:       []DeviceFile{{DeviceID: keyA, UploadID: "u-1", FilePath: "A/System.txt"}},
	}))
	require.NoError(t, store.WriteBatch(ctx, &RecordBatch{}))

	known, err := store.KnownDevices(ctx, []string{keyA, keyB})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{keyA: {}}, known)

	known, err = store.KnownDevices(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestGormStore_DiscardUpload(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	db := store.DB()

	for _, id := range []string{"keep", "drop"} {
		require.NoError(t, store.BeginUpload(ctx, &Upload{UploadID: id, Filename: id + ".zip"}))
		require.NoError(t, store.WriteBatch(ctx, &RecordBatch{
			Devices:       []Device{{DeviceID: DeviceKey(id), UploadID: id}},
			Credentials:   []Credential{{DeviceID: DeviceKey(id), UploadID: id}},
			PasswordStats: []PasswordStat{{DeviceID: DeviceKey(id), UploadID: id, Password: "123456", Count: 3}},
			Software:      []Software{{DeviceID: DeviceKey(id), UploadID: id}},
			Files:         []DeviceFile{{DeviceID: DeviceKey(id), UploadID: id}},
		}))
	}

	require.NoError(t, store.DiscardUpload(ctx, "drop"))

	for _, model := range []any{&Device{}, &Credential{}, &PasswordStat{}, &Software{}, &DeviceFile{}} {
		var n int64
		require.NoError(t, db.Model(model).Where("upload_id = ?", "drop").Count(&n).Error)
		assert.Zero(t, n)
		require.NoError(t, db.Model(model).Where("upload_id = ?", "keep").Count(&n).Error)
		assert.EqualValues(t, 1, n)
	}
}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	_, err := OpenDB("postgres", "x", nil)
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?mode=ro", sqliteDSN("file:a.db?mode=ro"))
}

func TestConfigurePool(t *testing.T) {
	store := openTestStore(t)
	sqlDB, err := store.DB().DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	configurePool(sqlDB, "mysql")
	assert.Equal(t, mysqlMaxOpenConns, sqlDB.Stats().MaxOpenConnections)
}
