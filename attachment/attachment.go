// Package attachment uploads binary payloads to the object store and resolves
// stored references to fetchable URLs.
package attachment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/retry"
)

const (
	DefaultMaxSize = 10 << 20
	urlCachePrefix = "attachment:url:"
)

type Options struct {
	// Dedup returns the existing reference when the owner already uploaded identical content.
	Dedup         bool
	MaxSize       int64
	URLTTL        time.Duration
	UploadPolicy  retry.Policy
	ResolvePolicy retry.Policy
	Sleep         retry.Sleeper
	Logger        zerolog.Logger
}

type Pipeline struct {
	objects backend.Objects
	cache   backend.Cache
	opts    Options
}

// New builds a Pipeline. cache may be nil.
func New(objects backend.Objects, cache backend.Cache, opts Options) *Pipeline {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = time.Hour
	}
	if opts.UploadPolicy == (retry.Policy{}) {
		opts.UploadPolicy = retry.DefaultPolicy()
	}
	if opts.ResolvePolicy == (retry.Policy{}) {
		opts.ResolvePolicy = retry.ResolvePolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Pipeline{objects: objects, cache: cache, opts: opts}
}

// Upload stores data under a content addressed reference and returns it.
// The reference only becomes visible once the object is fully published.
func (p *Pipeline) Upload(ctx context.Context, owner, contentType string, data []byte) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", errs.ErrUnauthenticated
	}
	if len(data) == 0 {
		return "", errs.Validation("attachment is empty")
	}
	if int64(len(data)) > p.opts.MaxSize {
		return "", errs.Validation("attachment exceeds %d bytes", p.opts.MaxSize)
	}
	if contentType = strings.TrimSpace(contentType); contentType == "" {
		contentType = http.DetectContentType(data)
	}

	hash := model.ContentHash(data)
	ref := model.AttachmentPath(owner, hash)
	log := p.opts.Logger.With().Str("owner", owner).Str("ref", ref).Logger()

	if p.opts.Dedup {
		exists, err := p.exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if exists {
			log.Debug().Msg("attachment already uploaded")
			return ref, nil
		}
	}

	blob := model.AttachmentBlob{
		Path:        ref,
		OwnerID:     owner,
		SHA256:      hash,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
	res := retry.Do(ctx, p.opts.UploadPolicy, func(ctx context.Context) error {
		return p.objects.Put(ctx, blob)
	}, retry.WithSleeper(p.opts.Sleep), retry.WithLogger(log, "attachment.put"))
	if err := res.Err(); err != nil {
		log.Error().Err(err).Int("attempts", res.Attempts).Msg("attachment upload failed")
		return "", err
	}

	log.Info().Int("size", len(data)).Str("content_type", contentType).Msg("attachment published")
	return ref, nil
}

func (p *Pipeline) exists(ctx context.Context, ref string) (bool, error) {
	err := retry.Do(ctx, p.opts.UploadPolicy, func(ctx context.Context) error {
		_, err := p.objects.Stat(ctx, ref)
		return err
	}, retry.WithSleeper(p.opts.Sleep)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Resolve turns a reference into a URL. Transient failures are retried; once
// attempts are exhausted the error is ErrResolutionFailed. Values that already
// are URLs are returned unchanged.
func (p *Pipeline) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errs.Validation("attachment reference is empty")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	if p.cache != nil {
		if url, err := p.cache.Get(ctx, urlCachePrefix+ref); err == nil {
			return url, nil
		} else if !errors.Is(err, backend.ErrCacheMiss) {
			p.opts.Logger.Warn().Err(err).Str("ref", ref).Msg("url cache read failed")
		}
	}

	var url string
	res := retry.Do(ctx, p.opts.ResolvePolicy, func(ctx context.Context) error {
		var err error
		url, err = p.objects.URL(ctx, ref)
		return err
	}, retry.WithSleeper(p.opts.Sleep), retry.WithLogger(p.opts.Logger, "attachment.resolve"))
	if err := res.Err(); err != nil {
		if errs.IsTransient(err) {
			return "", errs.ResolutionFailed(ref, err)
		}
		return "", err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, urlCachePrefix+ref, url, p.opts.URLTTL); err != nil {
			p.opts.Logger.Warn().Err(err).Str("ref", ref).Msg("url cache write failed")
		}
	}
	return url, nil
}
