package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/widgetbase/server/internal/models"
	"go.uber.org/zap"
)

// StoreChunks allocates a file id, writes the file record, embeds all chunks
// in one batch and persists them for retrieval. Partial writes before an
// embedding failure are not rolled back.
func (s *Store) StoreChunks(ctx context.Context, clientID string, chunks []string, meta models.FileMeta) (int64, error) {
	if len(chunks) == 0 {
		return 0, &models.ValidationError{Field: "chunks", Reason: "empty"}
	}

	fileID, err := s.rdb.Incr(ctx, fileCounterKey(clientID)).Result()
	if err != nil {
		return 0, &models.IngestionError{ClientID: clientID, Err: err}
	}

	fk := fileKey(clientID, fileID)
	fileData := map[string]interface{}{
		"filename":    meta.Filename,
		"size":        meta.Size,
		"num_pages":   meta.NumPages,
		"uploaded_at": time.Now().Format(time.RFC3339),
		"chunk_count": len(chunks),
	}
	if err := s.rdb.HSet(ctx, fk, fileData).Err(); err != nil {
		return 0, &models.IngestionError{ClientID: clientID, Err: err}
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, &models.IngestionError{ClientID: clientID, Err: &models.UpstreamError{Op: "embed", Err: err}}
	}
	if len(embeddings) != len(chunks) {
		return 0, &models.IngestionError{
			ClientID: clientID,
			Err:      fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(chunks)),
		}
	}

	owned := []string{fileCounterKey(clientID), fk, filesKey(clientID), summaryKey(clientID)}
	for idx, chunk := range chunks {
		ck := chunkKey(clientID, fileID, idx)
		chunkData := map[string]interface{}{
			"client_id":    clientID,
			"file_id":      strconv.FormatInt(fileID, 10),
			"content":      chunk,
			"embedding":    float32Bytes(embeddings[idx]),
			"chunk_index":  strconv.Itoa(idx),
			"total_chunks": strconv.Itoa(len(chunks)),
			"filename":     meta.Filename,
		}
		if err := s.rdb.HSet(ctx, ck, chunkData).Err(); err != nil {
			return 0, &models.IngestionError{ClientID: clientID, Err: err}
		}
		owned = append(owned, ck)
	}

	if err := s.rdb.SAdd(ctx, filesKey(clientID), fileID).Err(); err != nil {
		return 0, &models.IngestionError{ClientID: clientID, Err: err}
	}
	s.registerKeys(ctx, clientID, owned...)

	s.incrFilesInfo(ctx, clientID, 1, int64(len(chunks)), meta.Size)

	s.logger.Info("chunks stored",
		zap.String("client_id", clientID),
		zap.Int64("file_id", fileID),
		zap.Int("chunks", len(chunks)))
	return fileID, nil
}

// SemanticSearch returns up to topK chunk contents for the tenant, nearest
// first. Retrieval failure degrades to no context rather than failing the
// chat turn.
func (s *Store) SemanticSearch(ctx context.Context, clientID, query string, topK int) []string {
	embeddings, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		s.logger.Error("query embedding failed", zap.String("client_id", clientID), zap.Error(err))
		return nil
	}

	res, err := s.rdb.FTSearchWithArgs(ctx, chunkIndexName, knnQuery(clientID, topK),
		&redis.FTSearchOptions{
			Return: []redis.FTSearchReturn{
				{FieldName: "content"},
				{FieldName: "score"},
				{FieldName: "filename"},
				{FieldName: "chunk_index"},
				{FieldName: "file_id"},
			},
			SortBy:         []redis.FTSearchSortBy{{FieldName: "score", Asc: true}},
			LimitOffset:    0,
			Limit:          topK,
			Params:         map[string]interface{}{"vec": float32Bytes(embeddings[0])},
			DialectVersion: 2,
		}).Result()
	if err != nil {
		s.logger.Error("semantic search failed", zap.String("client_id", clientID), zap.Error(err))
		return nil
	}

	contents := make([]string, 0, len(res.Docs))
	for _, doc := range res.Docs {
		if c, ok := doc.Fields["content"]; ok {
			contents = append(contents, c)
		}
	}
	return contents
}

// knnQuery builds a KNN query pre-filtered to one tenant's tag so results can
// never cross tenants.
func knnQuery(clientID string, topK int) string {
	return fmt.Sprintf("@client_id:{%s}=>[KNN %d @embedding $vec AS score]", clientID, topK)
}

// DeleteFileChunks removes the file record and every chunk of the named file,
// decrementing the rollup accordingly. Returns whether anything was deleted.
func (s *Store) DeleteFileChunks(ctx context.Context, clientID, filename string) (bool, error) {
	files, err := s.GetClientFiles(ctx, clientID)
	if err != nil {
		return false, err
	}

	deleted := false
	for _, f := range files {
		if f.Filename != filename {
			continue
		}

		keys := []string{fileKey(clientID, f.FileID)}
		for idx := 0; idx < f.ChunkCount; idx++ {
			keys = append(keys, chunkKey(clientID, f.FileID, idx))
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, filesKey(clientID), f.FileID)
		members := make([]interface{}, len(keys))
		for i, k := range keys {
			members[i] = k
		}
		pipe.SRem(ctx, registryKey(clientID), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}

		s.incrFilesInfo(ctx, clientID, -1, -int64(f.ChunkCount), -f.Size)
		deleted = true

		s.logger.Info("file deleted",
			zap.String("client_id", clientID),
			zap.String("filename", filename),
			zap.Int64("file_id", f.FileID))
	}

	return deleted, nil
}

// GetClientFiles lists the tenant's file records ordered by file id.
func (s *Store) GetClientFiles(ctx context.Context, clientID string) ([]models.FileRecord, error) {
	ids, err := s.rdb.SMembers(ctx, filesKey(clientID)).Result()
	if err != nil {
		return nil, err
	}

	files := make([]models.FileRecord, 0, len(ids))
	for _, id := range ids {
		fileID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		data, err := s.rdb.HGetAll(ctx, fileKey(clientID, fileID)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		size, _ := strconv.ParseInt(data["size"], 10, 64)
		numPages, _ := strconv.Atoi(data["num_pages"])
		chunkCount, _ := strconv.Atoi(data["chunk_count"])
		files = append(files, models.FileRecord{
			FileID:     fileID,
			Filename:   data["filename"],
			Size:       size,
			NumPages:   numPages,
			UploadedAt: data["uploaded_at"],
			ChunkCount: chunkCount,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].FileID < files[j].FileID })
	return files, nil
}

// float32Bytes encodes a vector as raw little-endian float32, the layout the
// vector index expects.
func float32Bytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
