package resource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"resource-service/common/apperror"
	"resource-service/internal/batch"
	"resource-service/internal/blob"
	"resource-service/internal/event"
	"resource-service/internal/metrics"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen matches the read limit mimetype uses for detection.
const sniffLen = 3072

var (
	ErrAccessDenied   = apperror.Forbidden("access denied")
	ErrNotPreviewable = apperror.Forbidden("preview not available for this file type")
	ErrFileNotFound   = apperror.NotFound("file not found")
)

// Gate decides whether a student may read a resource.
type Gate interface {
	CanAccess(ctx context.Context, studentID, resourceID int64) (bool, error)
}

// Visibility resolves the resources reachable through a student's batches.
type Visibility interface {
	ResourcesVisibleTo(ctx context.Context, studentID int64) ([]int64, error)
}

type BatchFinder interface {
	GetByID(ctx context.Context, id int64) (*batch.Batch, error)
}

type UploadInput struct {
	BatchID  int64
	Title    string
	Filename string
	Size     int64
	Body     io.Reader
}

// Preview is an open blob stream ready to be served inline.
type Preview struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Title         string
}

type Service interface {
	Upload(ctx context.Context, in UploadInput) (*Resource, error)
	Delete(ctx context.Context, resourceID int64) error
	DeleteBatch(ctx context.Context, batchID int64) ([]int64, error)
	ListForBatch(ctx context.Context, batchID int64) ([]Listing, error)
	ListForStudent(ctx context.Context, studentID int64) ([]Listing, error)
	SignedURL(ctx context.Context, studentID, resourceID int64) (SignedURL, error)
	OpenPreview(ctx context.Context, studentID, resourceID int64) (*Preview, error)
}

type service struct {
	store      Store
	blobs      blob.Store
	gate       Gate
	visibility Visibility
	batches    BatchFinder
	events     event.Emitter
	urlTTL     time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Deps struct {
	Store      Store
	Blobs      blob.Store
	Gate       Gate
	Visibility Visibility
	Batches    BatchFinder
	Events     event.Emitter
	URLTTL     time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func NewService(d Deps) Service {
	return &service{
		store:      d.Store,
		blobs:      d.Blobs,
		gate:       d.Gate,
		visibility: d.Visibility,
		batches:    d.Batches,
		events:     d.Events,
		urlTTL:     d.URLTTL,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// Upload stores the blob first and only then creates the linked record, so
// a record never points at a missing object.
func (s *service) Upload(ctx context.Context, in UploadInput) (*Resource, error) {
	if _, err := s.batches.GetByID(ctx, in.BatchID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Filename
	}
	if title == "" {
		return nil, apperror.Validation("title is required")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, apperror.Validation("failed to read file")
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()
	body := io.MultiReader(bytes.NewReader(head), in.Body)

	key := blob.NewKey(in.BatchID, in.Filename)
	if err := s.blobs.Put(ctx, key, body, in.Size, contentType); err != nil {
		return nil, apperror.Dependency("failed to store file", err)
	}

	res, err := s.store.CreateLinked(ctx, &Resource{
		Title:       title,
		S3Key:       key,
		ContentType: contentType,
		SizeBytes:   in.Size,
	}, in.BatchID)
	if err != nil {
		s.removeBlob(ctx, key, "record insert failed")
		return nil, err
	}

	s.metrics.RecordResourceUploaded(ctx)
	s.events.Emit(ctx, event.ResourceUploaded, event.ResourceUploadedPayload{ResourceID: res.ID, BatchID: in.BatchID})
	s.logger.InfoContext(ctx, "resource uploaded",
		"resource_id", res.ID,
		"batch_id", in.BatchID,
		"content_type", contentType,
		"size_bytes", in.Size,
	)

	return res, nil
}

// Delete removes the record, then its blob. A blob that cannot be removed is
// reported as orphaned; the record deletion stands.
func (s *service) Delete(ctx context.Context, resourceID int64) error {
	res, err := s.store.Delete(ctx, resourceID)
	if err != nil {
		return err
	}

	s.removeBlob(ctx, res.S3Key, "blob delete failed")
	s.metrics.RecordResourcesDeleted(ctx, 1)
	s.events.Emit(ctx, event.ResourceDeleted, event.ResourceDeletedPayload{ResourceID: res.ID})
	s.logger.InfoContext(ctx, "resource deleted", "resource_id", res.ID)

	return nil
}

func (s *service) DeleteBatch(ctx context.Context, batchID int64) ([]int64, error) {
	removed, err := s.store.DeleteBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(removed))
	for _, res := range removed {
		s.removeBlob(ctx, res.S3Key, "blob delete failed")
		ids = append(ids, res.ID)
	}

	s.metrics.RecordResourcesDeleted(ctx, len(ids))
	s.events.Emit(ctx, event.BatchDeleted, event.BatchDeletedPayload{BatchID: batchID, DeletedResources: ids})
	s.logger.InfoContext(ctx, "batch deleted", "batch_id", batchID, "deleted_resources", len(ids))

	return ids, nil
}

func (s *service) removeBlob(ctx context.Context, key, reason string) {
	err := s.blobs.Delete(ctx, key)
	if err == nil || errors.Is(err, blob.ErrNotFound) {
		return
	}

	s.metrics.RecordBlobOrphaned(ctx)
	s.events.Emit(ctx, event.BlobOrphaned, event.BlobOrphanedPayload{Key: key, Reason: reason})
	s.logger.ErrorContext(ctx, "blob left orphaned", "key", key, "reason", reason, "error", err)
}

func (s *service) ListForBatch(ctx context.Context, batchID int64) ([]Listing, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	resources, err := s.store.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, resources), nil
}

func (s *service) ListForStudent(ctx context.Context, studentID int64) ([]Listing, error) {
	ids, err := s.visibility.ResourcesVisibleTo(ctx, studentID)
	if err != nil {
		return nil, err
	}
	resources, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, resources), nil
}

// sign attaches a read link to every resource. A link that cannot be signed
// is left null instead of failing the listing.
func (s *service) sign(ctx context.Context, resources []Resource) []Listing {
	listings := make([]Listing, 0, len(resources))
	for _, res := range resources {
		item := Listing{ID: res.ID, Title: res.Title, CreatedAt: res.CreatedAt}
		url, err := s.blobs.PresignGet(ctx, res.S3Key, s.urlTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to sign resource url", "resource_id", res.ID, "error", err)
		} else {
			item.URL = &url
		}
		listings = append(listings, item)
	}
	return listings
}

// authorize loads the resource and runs the membership gate against it.
func (s *service) authorize(ctx context.Context, studentID, resourceID int64) (*Resource, error) {
	res, err := s.store.GetByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	ok, err := s.gate.CanAccess(ctx, studentID, resourceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.RecordAccessDenied(ctx)
		s.logger.WarnContext(ctx, "resource access denied", "student_id", studentID, "resource_id", resourceID)
		return nil, ErrAccessDenied
	}
	return res, nil
}

func (s *service) SignedURL(ctx context.Context, studentID, resourceID int64) (SignedURL, error) {
	res, err := s.authorize(ctx, studentID, resourceID)
	if err != nil {
		return SignedURL{}, err
	}

	url, err := s.blobs.PresignGet(ctx, res.S3Key, s.urlTTL)
	if err != nil {
		return SignedURL{}, apperror.Dependency("failed to sign url", err)
	}
	return SignedURL{URL: url, ExpiresIn: int(s.urlTTL.Seconds())}, nil
}

func (s *service) OpenPreview(ctx context.Context, studentID, resourceID int64) (*Preview, error) {
	res, err := s.authorize(ctx, studentID, resourceID)
	if err != nil {
		return nil, err
	}
	if !Previewable(res) {
		return nil, ErrNotPreviewable
	}

	obj, err := s.blobs.Get(ctx, res.S3Key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, apperror.Dependency("failed to open file", err)
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &Preview{
		Body:          obj.Body,
		ContentType:   contentType,
		ContentLength: obj.ContentLength,
		Title:         res.Title,
	}, nil
}

// Previewable reports whether a resource can be streamed inline. Rows
// without a recorded content type fall back to the title suffix.
func Previewable(res *Resource) bool {
	if res.ContentType == "" {
		return strings.HasSuffix(strings.ToLower(res.Title), ".pdf")
	}
	return mimetype.EqualsAny(res.ContentType, "application/pdf", "application/x-pdf")
}
