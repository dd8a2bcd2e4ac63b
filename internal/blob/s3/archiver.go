package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/catallaxyz/matchd/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// archivedMatch is the stored representation of one settled match.
type archivedMatch struct {
	domain.MatchDescriptor
	TxRef     string    `json:"txRef"`
	SettledAt time.Time `json:"settledAt"`
}

// MatchArchiver writes settled match descriptors to cold storage, one JSON
// object per match under a day-partitioned prefix:
//
//	archive/settles/2025-09-01/{match-id}.json
//
// Deletion from the primary stores is intentionally not performed here; the
// archive is a reconciliation record, not the system of record.
type MatchArchiver struct {
	client *s3.Client
	bucket string
}

// NewMatchArchiver creates a MatchArchiver uploading to the client's
// configured bucket.
func NewMatchArchiver(c *Client) *MatchArchiver {
	return &MatchArchiver{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// ArchiveSettled uploads one settled match record.
func (a *MatchArchiver) ArchiveSettled(ctx context.Context, desc domain.MatchDescriptor, txRef string) error {
	rec := archivedMatch{
		MatchDescriptor: desc,
		TxRef:           txRef,
		SettledAt:       time.Now().UTC(),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("s3blob: encode match %s: %w", desc.ID, err)
	}

	key := settleKey(desc.ID, rec.SettledAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put match %s: %w", desc.ID, err)
	}
	return nil
}

// ArchiveBatch uploads many settled records as one JSONL object via the
// multipart upload manager, used for bulk backfills.
func (a *MatchArchiver) ArchiveBatch(ctx context.Context, key string, records []archivedMatch) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode batch record %d: %w", i, err)
		}
	}

	uploader := manager.NewUploader(a.client, func(u *manager.Uploader) {
		u.PartSize = minPartSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload batch %s: %w", key, err)
	}
	return nil
}

func settleKey(matchID string, at time.Time) string {
	return fmt.Sprintf("archive/settles/%s/%s.json", at.Format("2006-01-02"), matchID)
}

var _ domain.MatchArchiver = (*MatchArchiver)(nil)
