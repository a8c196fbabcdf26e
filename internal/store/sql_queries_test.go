// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

func Test_buildSelectEntitiesQuery_SQLContainsParts(t *testing.T) {
	query, args, err := buildSelectEntitiesQuery()
	require.NoError(t, err)
	require.Empty(t, args)

	q := strings.ToLower(query)
	require.Contains(t, q, "select")
	require.Contains(t, q, "from entities")
	require.Contains(t, q, "order by id")

	for _, c := range entityColumns {
		require.Contains(t, q, c)
	}
}

func Test_buildSelectKernelQuery(t *testing.T) {
	query, args, err := buildSelectKernelQuery()
	require.NoError(t, err)

	q := strings.ToLower(query)
	require.Contains(t, q, "from kernel")
	require.Contains(t, q, "where id = ?")
	require.Equal(t, []any{kernelRowID}, args)
}

func Test_buildUpsertEntityQuery(t *testing.T) {
	tests := []struct {
		name       string
		entity     models.Entity
		checkQuery func(t *testing.T, query string, args []any)
	}{
		{
			name: "success: full row",
			entity: models.Entity{
				ID:        7,
				ServerID:  "srv-7",
				Title:     "news",
				ParentID:  models.RootID,
				IsDir:     true,
				Specifics: models.EntitySpecifics{Type: models.Bookmarks, Payload: []byte("x")},
			},
			checkQuery: func(t *testing.T, query string, args []any) {
				assert.True(t, strings.HasPrefix(query, "REPLACE INTO entities"))
				// sqlite placeholders
				assert.Contains(t, query, "?")
				assert.NotContains(t, query, "$1")

				require.Len(t, args, len(entityColumns))
				assert.Equal(t, int64(7), args[0])
				assert.Equal(t, "srv-7", args[1])
				assert.Equal(t, int64(models.RootID), args[4])
				assert.Equal(t, true, args[7])

				var specifics models.EntitySpecifics
				require.NoError(t, json.Unmarshal(args[13].([]byte), &specifics))
				assert.Equal(t, models.Bookmarks, specifics.Type)
				assert.Equal(t, []byte("x"), specifics.Payload)
			},
		},
		{
			name: "success: encrypted specifics keep the ciphertext",
			entity: models.Entity{
				ID: 8,
				Specifics: models.EntitySpecifics{
					Type:      models.Passwords,
					Encrypted: &models.EncryptedData{KeyName: "k1", Blob: "AAAA"},
				},
			},
			checkQuery: func(t *testing.T, query string, args []any) {
				var specifics models.EntitySpecifics
				require.NoError(t, json.Unmarshal(args[13].([]byte), &specifics))
				require.True(t, specifics.IsEncrypted())
				assert.Equal(t, "k1", specifics.Encrypted.KeyName)
				assert.Empty(t, specifics.Payload)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildUpsertEntityQuery(tt.entity)
			require.NoError(t, err)
			tt.checkQuery(t, query, args)
		})
	}
}

func Test_buildDeleteEntitiesQuery(t *testing.T) {
	query, args, err := buildDeleteEntitiesQuery([]models.EntityID{3, 4, 5})
	require.NoError(t, err)

	q := strings.ToLower(query)
	require.Contains(t, q, "delete from entities")
	// squirrel generates IN (?,?,?) for a slice.
	require.Contains(t, q, "id in (?,?,?)")
	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, args)
}

func Test_buildUpsertKernelQuery_RoundTripsThroughDecode(t *testing.T) {
	k := syncable.Kernel{
		InitialSyncEnded: models.NewModelTypeSet(models.Bookmarks, models.Nigori),
		ProgressMarkers:  map[models.ModelType]string{models.Bookmarks: "tok-1"},
		StoreBirthday:    "bday",
		NextID:           42,
		CacheGUID:        "guid",
	}

	query, args, err := buildUpsertKernelQuery(k)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, "REPLACE INTO kernel"))
	require.Len(t, args, len(kernelColumns))
	assert.Equal(t, kernelRowID, args[0])
	assert.Equal(t, int64(42), args[4])

	var decoded syncable.Kernel
	require.NoError(t, decodeKernel(args[1].(string), args[2].(string), &decoded))
	assert.True(t, decoded.InitialSyncEnded.Equal(k.InitialSyncEnded))
	assert.Equal(t, k.ProgressMarkers, decoded.ProgressMarkers)
}

func Test_decodeKernel_Errors(t *testing.T) {
	tests := []struct {
		name    string
		ended   string
		markers string
		wantErr bool
	}{
		{name: "valid empty", ended: "[]", markers: "{}"},
		{name: "bad ended", ended: "{", markers: "{}", wantErr: true},
		{name: "unknown type name", ended: `["bogus"]`, markers: "{}", wantErr: true},
		{name: "bad markers", ended: "[]", markers: "[", wantErr: true},
		{name: "unknown marker type is skipped", ended: "[]", markers: `{"bogus":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var k syncable.Kernel
			err := decodeKernel(tt.ended, tt.markers, &k)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrCorruptRow)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, k.ProgressMarkers)
		})
	}
}
