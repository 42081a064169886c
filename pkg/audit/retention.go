package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/observability"
)

// RetentionPolicy controls how long audit rows are kept and whether
// they are archived before purging.
type RetentionPolicy struct {
	// RetentionDays is how many days of audit data stay queryable
	RetentionDays int

	// ArchiveEnabled uploads expiring rows to S3 before deletion
	ArchiveEnabled bool

	// ArchiveBucket is the S3 bucket receiving NDJSON archives
	ArchiveBucket string

	// Schedule is a cron expression for the purge job
	Schedule string
}

// DefaultRetentionPolicy keeps 90 days and purges nightly at 00:30 UTC
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: 90,
		Schedule:      "30 0 * * *",
	}
}

// S3Uploader is the subset of the S3 client the archiver needs
type S3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Retention purges audit rows past the policy horizon on a schedule,
// optionally archiving them to S3 as NDJSON first.
type Retention struct {
	store    *Store
	policy   RetentionPolicy
	uploader S3Uploader
	logger   *observability.Logger
	cron     *cron.Cron
}

// NewRetention creates the retention job. uploader may be nil when
// archiving is disabled.
func NewRetention(store *Store, policy RetentionPolicy, uploader S3Uploader, logger *observability.Logger) *Retention {
	return &Retention{
		store:    store,
		policy:   policy,
		uploader: uploader,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the purge job
func (r *Retention) Start() error {
	_, err := r.cron.AddFunc(r.policy.Schedule, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			r.logger.WithError(err).Error("audit retention run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit retention: %w", err)
	}

	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running job to finish
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce archives (when enabled) and purges rows older than the
// retention horizon.
func (r *Retention) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.policy.RetentionDays)

	if r.policy.ArchiveEnabled && r.uploader != nil {
		if err := r.archive(ctx, cutoff); err != nil {
			// Never purge rows that failed to archive
			return fmt.Errorf("failed to archive expiring audit rows: %w", err)
		}
	}

	trails, requests, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"cutoff":   cutoff.Format(time.RFC3339),
		"trails":   trails,
		"requests": requests,
	}).Info("purged expired audit rows")
	return nil
}

func (r *Retention) archive(ctx context.Context, cutoff time.Time) error {
	datePrefix := cutoff.Format("2006-01-02")

	trailKey := fmt.Sprintf("audit/trails/%s.ndjson", datePrefix)
	if err := r.archiveTrails(ctx, cutoff, trailKey); err != nil {
		return err
	}

	requestKey := fmt.Sprintf("audit/requests/%s.ndjson", datePrefix)
	return r.archiveRequests(ctx, cutoff, requestKey)
}

func (r *Retention) archiveTrails(ctx context.Context, cutoff time.Time, key string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	page := httputil.PageParams{Page: 1, PageSize: 1000}
	for {
		trails, _, err := r.store.ListTrails(ctx, TrailFilter{To: &cutoff}, page)
		if err != nil {
			return err
		}
		for i := range trails {
			if err := enc.Encode(&trails[i]); err != nil {
				return fmt.Errorf("failed to encode trail: %w", err)
			}
		}
		if len(trails) < page.PageSize {
			break
		}
		page.Page++
	}

	if buf.Len() == 0 {
		return nil
	}
	return r.upload(ctx, key, buf.Bytes())
}

func (r *Retention) archiveRequests(ctx context.Context, cutoff time.Time, key string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	page := httputil.PageParams{Page: 1, PageSize: 1000}
	for {
		records, _, err := r.store.ListRequests(ctx, RequestFilter{To: &cutoff}, page)
		if err != nil {
			return err
		}
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return fmt.Errorf("failed to encode request record: %w", err)
			}
		}
		if len(records) < page.PageSize {
			break
		}
		page.Page++
	}

	if buf.Len() == 0 {
		return nil
	}
	return r.upload(ctx, key, buf.Bytes())
}

func (r *Retention) upload(ctx context.Context, key string, data []byte) error {
	_, err := r.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.policy.ArchiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
