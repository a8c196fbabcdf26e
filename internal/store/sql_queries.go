package store

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-sync-engine/internal/syncable"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	entitiesTable = "entities"
	kernelTable   = "kernel"
	kernelRowID   = 1
)

// sqlite takes "?" placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var entityColumns = []string{
	"id",
	"server_id",
	"unique_tag",
	"title",
	"parent_id",
	"predecessor_id",
	"successor_id",
	"is_dir",
	"is_deleted",
	"is_unsynced",
	"is_unapplied_update",
	"base_version",
	"server_version",
	"specifics",
	"server_parent_id",
	"server_predecessor_id",
	"server_name",
	"server_is_dir",
	"server_is_deleted",
	"server_specifics",
}

var kernelColumns = []string{
	"id",
	"initial_sync_ended",
	"progress_markers",
	"store_birthday",
	"next_id",
	"cache_guid",
}

func buildSelectEntitiesQuery() (string, []any, error) {
	return psql.Select(entityColumns...).From(entitiesTable).OrderBy("id").ToSql()
}

func buildSelectKernelQuery() (string, []any, error) {
	return psql.Select(kernelColumns[1:]...).From(kernelTable).Where(sq.Eq{"id": kernelRowID}).ToSql()
}

// buildUpsertEntityQuery writes the full row of e, replacing any previous
// version.
func buildUpsertEntityQuery(e models.Entity) (string, []any, error) {
	specifics, err := json.Marshal(e.Specifics)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode specifics: %w", ErrBuildingSQLQuery, err)
	}
	serverSpecifics, err := json.Marshal(e.ServerSpecifics)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode server specifics: %w", ErrBuildingSQLQuery, err)
	}

	return psql.Replace(entitiesTable).
		Columns(entityColumns...).
		Values(
			int64(e.ID),
			e.ServerID,
			e.UniqueTag,
			e.Title,
			int64(e.ParentID),
			int64(e.PredecessorID),
			int64(e.SuccessorID),
			e.IsDir,
			e.IsDeleted,
			e.IsUnsynced,
			e.IsUnappliedUpdate,
			e.BaseVersion,
			e.ServerVersion,
			specifics,
			e.ServerParentID,
			e.ServerPredecessorID,
			e.ServerName,
			e.ServerIsDir,
			e.ServerIsDeleted,
			serverSpecifics,
		).ToSql()
}

func buildDeleteEntitiesQuery(ids []models.EntityID) (string, []any, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	return psql.Delete(entitiesTable).Where(sq.Eq{"id": raw}).ToSql()
}

func buildUpsertKernelQuery(k syncable.Kernel) (string, []any, error) {
	ended, err := json.Marshal(k.InitialSyncEnded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode initial sync ended: %w", ErrBuildingSQLQuery, err)
	}
	markers := make(map[string]string, len(k.ProgressMarkers))
	for t, m := range k.ProgressMarkers {
		markers[t.String()] = m
	}
	encodedMarkers, err := json.Marshal(markers)
	if err != nil {
		return "", nil, fmt.Errorf("%w: encode progress markers: %w", ErrBuildingSQLQuery, err)
	}

	return psql.Replace(kernelTable).
		Columns(kernelColumns...).
		Values(kernelRowID, string(ended), string(encodedMarkers), k.StoreBirthday, int64(k.NextID), k.CacheGUID).
		ToSql()
}

// decodeKernel parses the encoded columns of the kernel row.
func decodeKernel(ended, markers string, k *syncable.Kernel) error {
	if err := json.Unmarshal([]byte(ended), &k.InitialSyncEnded); err != nil {
		return fmt.Errorf("%w: initial_sync_ended: %w", ErrCorruptRow, err)
	}
	raw := make(map[string]string)
	if err := json.Unmarshal([]byte(markers), &raw); err != nil {
		return fmt.Errorf("%w: progress_markers: %w", ErrCorruptRow, err)
	}
	k.ProgressMarkers = make(map[models.ModelType]string, len(raw))
	for name, m := range raw {
		t, err := models.ModelTypeFromString(name)
		if err != nil {
			// a type this build no longer knows; its marker is useless
			continue
		}
		k.ProgressMarkers[t] = m
	}
	return nil
}
