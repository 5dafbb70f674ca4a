// Package files implements the storage service: uploads, downloads, the
// owner's file management and the admin account operations.
package files

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/blobstore"
	"github.com/mycloud-net/storage-go/internal/handle"
	"github.com/mycloud-net/storage-go/internal/logging"
	"github.com/mycloud-net/storage-go/internal/metrics"
	"github.com/mycloud-net/storage-go/internal/naming"
	"github.com/mycloud-net/storage-go/internal/store"
)

const (
	// MaxCommentLen is the comment limit in characters.
	MaxCommentLen = 500

	maxNameAttempts = 16
)

// Deps are the collaborators of a Service. Clock, Location, Metrics and
// Logger have usable zero values.
type Deps struct {
	Objects  store.Repo
	Accounts store.AccountRepo
	Blobs    blobstore.Store
	Clock    clock.Clock
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Service coordinates the metadata index and the blob store.
type Service struct {
	objects  store.Repo
	accounts store.AccountRepo
	blobs    blobstore.Store
	clock    clock.Clock
	loc      *time.Location
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a Service.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Service{
		objects:  d.Objects,
		accounts: d.Accounts,
		blobs:    d.Blobs,
		clock:    d.Clock,
		loc:      d.Location,
		metrics:  d.Metrics,
		log:      logging.Component(d.Logger, "files"),
	}
}

// Summary is the public view of a stored object. The storage name and the
// bytes are never part of it.
type Summary struct {
	Handle           string  `json:"handle"`
	Name             string  `json:"name"`
	Size             int64   `json:"size"`
	CreatedAt        int64   `json:"created_at"`
	LastDownloadedAt *int64  `json:"last_downloaded_at"`
	Comment          *string `json:"comment"`
	Created          string  `json:"created"`
}

// Listing is the caller's own files plus their admin flag.
type Listing struct {
	IsAdmin bool      `json:"isAdmin"`
	Files   []Summary `json:"files"`
}

// UploadInput describes an incoming file. Size is the declared length, or -1
// when unknown.
type UploadInput struct {
	Filename string
	Comment  string
	Body     io.Reader
	Size     int64
}

// UpdateInput carries the editable fields; nil fields are left as is and an
// empty comment clears it.
type UpdateInput struct {
	DisplayName *string
	Comment     *string
}

// Download is an open object ready to be streamed. The caller closes Body.
type Download struct {
	Handle   string
	Filename string
	Size     int64
	Body     io.ReadCloser
}

func (s *Service) summary(o *store.Object) Summary {
	return Summary{
		Handle:           o.Handle,
		Name:             o.DisplayName,
		Size:             o.SizeBytes,
		CreatedAt:        o.CreatedAt,
		LastDownloadedAt: o.LastDownloadedAt,
		Comment:          o.Comment,
		Created:          time.Unix(o.CreatedAt, 0).In(s.loc).Format(time.RFC3339),
	}
}

func (s *Service) summaries(objs []*store.Object) []Summary {
	out := make([]Summary, 0, len(objs))
	for _, o := range objs {
		out = append(out, s.summary(o))
	}
	return out
}

func validComment(c string) error {
	if !utf8.ValidString(c) {
		return errors.NotValidf("comment encoding")
	}
	if utf8.RuneCountInString(c) > MaxCommentLen {
		return errors.NotValidf("comment longer than %d characters", MaxCommentLen)
	}
	return nil
}

// Upload stores a new object owned by the caller.
func (s *Service) Upload(ctx context.Context, id *access.Identity, in UploadInput) (_ *Summary, err error) {
	if err := access.RequireIdentity(id); err != nil {
		return nil, err
	}
	var written int64
	defer func() { s.metrics.ObserveUpload(written, err) }()

	if in.Body == nil {
		return nil, errors.NotValidf("empty upload")
	}
	if err := validComment(in.Comment); err != nil {
		return nil, err
	}
	ts := s.clock.Now().Unix()
	base, err := naming.DeriveStorageName(in.Filename, ts)
	if err != nil {
		return nil, errors.NotValidf("file name %q", in.Filename)
	}

	owner := id.AccountID
	h := handle.New()
	name, written, err := s.putUnique(ctx, owner, base, in.Body, in.Size)
	if err != nil {
		return nil, err
	}
	if in.Size >= 0 && written != in.Size {
		s.removeBlob(ctx, owner, name)
		s.log.Error().Str("handle", h).Int64("declared", in.Size).Int64("written", written).Msg("upload size mismatch")
		return nil, fmt.Errorf("%w: wrote %d of %d bytes", ErrIntegrity, written, in.Size)
	}

	obj := &store.Object{
		Handle:      h,
		OwnerID:     owner,
		DisplayName: name,
		StorageName: name,
		SizeBytes:   written,
		CreatedAt:   ts,
	}
	if in.Comment != "" {
		obj.Comment = &in.Comment
	}
	if err := s.objects.Create(ctx, obj); err != nil {
		s.removeBlob(ctx, owner, name)
		switch {
		case errors.Is(err, store.ErrDuplicateHandle):
			s.log.Error().Str("handle", h).Msg("handle issued twice")
			return nil, fmt.Errorf("%w: duplicate handle", ErrIntegrity)
		case errors.Is(err, store.ErrConflict):
			s.log.Error().Str("handle", h).Int64("owner_id", owner).Msg("storage name indexed without a blob")
			return nil, fmt.Errorf("%w: storage name already indexed", ErrIntegrity)
		}
		return nil, errors.Annotate(err, "index object")
	}

	s.log.Info().Str("handle", h).Int64("owner_id", owner).Int64("size", written).Msg("object stored")
	sum := s.summary(obj)
	return &sum, nil
}

// putUnique writes the blob under base, or under base with the first free
// "-<n>" suffix when an upload in the same second already took the name.
// A remote backend may consume part of the body before refusing the name, so
// seekable bodies are rewound between attempts.
func (s *Service) putUnique(ctx context.Context, owner int64, base string, body io.Reader, size int64) (string, int64, error) {
	seeker, _ := body.(io.Seeker)
	var start int64
	if seeker != nil {
		off, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			seeker = nil
		}
		start = off
	}

	for n := range maxNameAttempts {
		name := naming.WithSuffix(base, n)
		written, err := s.blobs.Put(ctx, owner, name, body, size)
		switch {
		case err == nil:
			return name, written, nil
		case errors.Is(err, blobstore.ErrExists):
			if seeker != nil {
				if _, err := seeker.Seek(start, io.SeekStart); err != nil {
					return "", 0, fmt.Errorf("%w: rewind body: %v", ErrStorageWrite, err)
				}
			}
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", 0, errors.Trace(err)
		default:
			s.log.Error().Err(err).Int64("owner_id", owner).Msg("blob write failed")
			return "", 0, fmt.Errorf("%w: %v", ErrStorageWrite, err)
		}
	}
	return "", 0, fmt.Errorf("%w: no free name for %q after %d attempts", ErrStorageWrite, base, maxNameAttempts)
}

func (s *Service) removeBlob(ctx context.Context, owner int64, name string) {
	// The request context may already be done; cleanup must still run.
	ctx = context.WithoutCancel(ctx)
	if err := s.blobs.Delete(ctx, owner, name); err != nil {
		s.metrics.OrphanedBlobs.Inc()
		s.log.Warn().Err(err).Int64("owner_id", owner).Msg("blob left behind")
	}
}

// Download opens the object behind h. It needs no identity: holding the
// handle is the capability. A handle whose blob is gone is reported exactly
// like an unknown handle.
func (s *Service) Download(ctx context.Context, h string) (*Download, error) {
	if !handle.Valid(h) {
		s.metrics.ObserveDownload(metrics.OutcomeNotFound)
		return nil, errors.NotFoundf("file")
	}
	obj, err := s.objects.FindByHandle(ctx, h)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveDownload(metrics.OutcomeNotFound)
			return nil, errors.NotFoundf("file")
		}
		s.metrics.ObserveDownload(metrics.OutcomeError)
		return nil, errors.Annotate(err, "find object")
	}

	body, err := s.blobs.Get(ctx, obj.OwnerID, obj.StorageName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			s.metrics.ObserveDownload(metrics.OutcomeOrphan)
			s.log.Warn().Str("handle", h).Int64("owner_id", obj.OwnerID).Msg("indexed object has no blob")
			return nil, errors.NotFoundf("file")
		}
		s.metrics.ObserveDownload(metrics.OutcomeError)
		return nil, errors.Annotate(err, "open blob")
	}

	if err := s.objects.RecordDownload(ctx, h, s.clock.Now().Unix()); err != nil {
		body.Close()
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveDownload(metrics.OutcomeNotFound)
			return nil, errors.NotFoundf("file")
		}
		s.metrics.ObserveDownload(metrics.OutcomeError)
		return nil, errors.Annotate(err, "record download")
	}

	s.metrics.ObserveDownload(metrics.OutcomeOK)
	return &Download{
		Handle:   h,
		Filename: naming.DownloadName(obj.DisplayName),
		Size:     obj.SizeBytes,
		Body:     body,
	}, nil
}

// List returns the caller's files, newest first.
func (s *Service) List(ctx context.Context, id *access.Identity) (*Listing, error) {
	if err := access.RequireIdentity(id); err != nil {
		return nil, err
	}
	objs, err := s.objects.ListByOwner(ctx, id.AccountID)
	if err != nil {
		return nil, errors.Annotate(err, "list objects")
	}
	return &Listing{IsAdmin: id.IsAdmin, Files: s.summaries(objs)}, nil
}

// lookup finds h and checks the caller may modify it.
func (s *Service) lookup(ctx context.Context, id *access.Identity, h string) (*store.Object, error) {
	if err := access.RequireIdentity(id); err != nil {
		return nil, err
	}
	if !handle.Valid(h) {
		return nil, errors.NotFoundf("file")
	}
	obj, err := s.objects.FindByHandle(ctx, h)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("file")
		}
		return nil, errors.Annotate(err, "find object")
	}
	if err := access.Authorize(id, obj.OwnerID); err != nil {
		return nil, err
	}
	return obj, nil
}

// Update changes the display name and/or comment of an object.
func (s *Service) Update(ctx context.Context, id *access.Identity, h string, in UpdateInput) (*Summary, error) {
	upd := store.DisplayUpdate{DisplayName: in.DisplayName, Comment: in.Comment}
	if upd.Empty() {
		return nil, errors.NotValidf("empty update")
	}
	if in.DisplayName != nil && !naming.ValidDisplayName(*in.DisplayName) {
		return nil, errors.NotValidf("name %q", *in.DisplayName)
	}
	if in.Comment != nil {
		if err := validComment(*in.Comment); err != nil {
			return nil, err
		}
	}
	if _, err := s.lookup(ctx, id, h); err != nil {
		return nil, err
	}

	obj, err := s.objects.UpdateDisplayFields(ctx, h, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("file")
		}
		return nil, errors.Annotate(err, "update object")
	}
	sum := s.summary(obj)
	return &sum, nil
}

// Delete removes an object. The index row goes first; once it is gone the
// object no longer exists, whatever happens to the blob.
func (s *Service) Delete(ctx context.Context, id *access.Identity, h string) error {
	obj, err := s.lookup(ctx, id, h)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, h); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.NotFoundf("file")
		}
		return errors.Annotate(err, "delete object")
	}
	s.metrics.DeletesTotal.Inc()
	s.removeBlob(ctx, obj.OwnerID, obj.StorageName)
	s.log.Info().Str("handle", h).Int64("by", id.AccountID).Msg("object deleted")
	return nil
}
