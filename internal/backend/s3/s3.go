// Package s3 stores each entry as a JSON document in an S3 bucket. Object keys
// are derived from flat entry keys; expiration is recorded in the document and
// enforced on read.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/backend/filtermatch"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

const documentSuffix = ".json"

// ObjectAPI is the subset of the S3 client used by the backend
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds bucket and client settings
type Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	// Static credentials; the default chain is used when empty
	AccessKeyID     string
	SecretAccessKey string
}

// Backend implements backend.Backend over S3 objects
type Backend struct {
	client ObjectAPI
	bucket string
	prefix string
	keys   *keys.Converter
	now    func() time.Time
}

// NewWithConfig loads the AWS configuration and creates a client
func NewWithConfig(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates a backend with an existing client
func NewWithClient(client ObjectAPI, bucket, prefix string) *Backend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{
		client: client,
		bucket: bucket,
		prefix: prefix,
		keys:   keys.NewConverter(true),
		now:    time.Now,
	}
}

// SetKeyConverter replaces the identifier converter used to build storage keys
func (b *Backend) SetKeyConverter(c *keys.Converter) {
	b.keys = c
}

// SetClock replaces the clock used for expiration (tests)
func (b *Backend) SetClock(now func() time.Time) {
	b.now = now
}

// objectKey maps an identifier to prefix[scope/]flatKey.json
func (b *Backend) objectKey(key string) (string, error) {
	parsed, err := b.keys.Parse(backend.NormalizeKey(key))
	if err != nil {
		return "", err
	}
	if parsed.OrgScope != "" {
		return b.prefix + parsed.OrgScope + "/" + parsed.Key + documentSuffix, nil
	}
	return b.prefix + parsed.Key + documentSuffix, nil
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// get loads a live document; expired documents are reported as absent
func (b *Backend) get(ctx context.Context, objectKey string) (*backend.Document, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrEntryNotFound
		}
		return nil, fmt.Errorf("GetObject failed for %s: %w", objectKey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectKey, err)
	}
	doc, err := backend.UnmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", objectKey, err)
	}
	if doc.Expired(b.now()) {
		return nil, backend.ErrEntryNotFound
	}
	return doc, nil
}

func (b *Backend) put(ctx context.Context, objectKey string, doc *backend.Document) error {
	data, err := backend.MarshalDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", objectKey, err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("PutObject failed for %s: %w", objectKey, err)
	}
	return nil
}

func (b *Backend) delete(ctx context.Context, objectKey string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("DeleteObject failed for %s: %w", objectKey, err)
	}
	return nil
}

func (b *Backend) expiry(ttl int) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := b.now().UTC().Add(time.Duration(ttl) * time.Second)
	return &t
}

// Persist writes a new document
func (b *Backend) Persist(ctx context.Context, key string, objectClasses []string, attrs []*attribute.Data, ttl int) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}

	_, err = b.get(ctx, objectKey)
	switch {
	case err == nil:
		return fmt.Errorf("failed to persist entry %s: %w", key, backend.ErrEntryExists)
	case !backend.IsNotFound(err):
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}

	doc := backend.NewDocument(backend.NewEntry(key, objectClasses, attrs))
	doc.ExpiresAt = b.expiry(ttl)
	if err := b.put(ctx, objectKey, doc); err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	return nil
}

// Merge rewrites the document with the modifications applied
func (b *Backend) Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}
	current, err := b.get(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}

	entry := current.Entry()
	entry.Apply(mods)
	doc := backend.NewDocument(entry)
	doc.ExpiresAt = current.ExpiresAt
	if ttl > 0 {
		doc.ExpiresAt = b.expiry(ttl)
	}
	if err := b.put(ctx, objectKey, doc); err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}
	return nil
}

// Find reads one document
func (b *Backend) Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error) {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, err)
	}
	doc, err := b.get(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, err)
	}
	return doc.Entry().Data(attrs...), nil
}

// Search lists the bucket prefix and evaluates the filter in process
func (b *Backend) Search(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter, attrs []string, limit int) (map[string][]*attribute.Data, error) {
	entries, err := b.scan(ctx, baseKey, scope, objectClasses, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}

	result := make(map[string][]*attribute.Data)
	for _, e := range entries {
		if limit > 0 && len(result) >= limit {
			break
		}
		result[e.entry.Key] = e.entry.Data(attrs...)
	}
	return result, nil
}

// Contains reports whether any document below baseKey matches filter
func (b *Backend) Contains(ctx context.Context, baseKey string, objectClasses []string, filter *query.Filter) (bool, error) {
	entries, err := b.scan(ctx, baseKey, backend.ScopeSubtree, objectClasses, filter)
	if err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}
	return len(entries) > 0, nil
}

type scanned struct {
	objectKey string
	entry     *backend.Entry
}

// scan returns live documents in scope ordered by identifier
func (b *Backend) scan(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter) ([]scanned, error) {
	var result []scanned
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListObjectsV2 failed for %s: %w", b.prefix, err)
		}
		for _, obj := range page.Contents {
			objectKey := aws.ToString(obj.Key)
			if !strings.HasSuffix(objectKey, documentSuffix) {
				continue
			}
			doc, err := b.get(ctx, objectKey)
			if err != nil {
				if backend.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			entry := doc.Entry()
			if !scope.Includes(entry.Key, baseKey) || !entry.HasObjectClasses(objectClasses) {
				continue
			}
			if filtermatch.Match(filter, entry) {
				result = append(result, scanned{objectKey: objectKey, entry: entry})
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].entry.Key < result[j].entry.Key })
	return result, nil
}

// RemoveByKey deletes one document
func (b *Backend) RemoveByKey(ctx context.Context, key string, objectClasses []string) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	if _, err := b.get(ctx, objectKey); err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	if err := b.delete(ctx, objectKey); err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	return nil
}

// RemoveRecursively deletes every document at or below key
func (b *Backend) RemoveRecursively(ctx context.Context, key string, objectClasses []string) error {
	entries, err := b.scan(ctx, key, backend.ScopeSubtree, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	for _, e := range entries {
		if err := b.delete(ctx, e.objectKey); err != nil {
			return fmt.Errorf("failed to remove entry %s: %w", key, err)
		}
	}
	return nil
}

// EncodeTime implements backend.Backend
func (b *Backend) EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeTime implements backend.Backend
func (b *Backend) DecodeTime(s string) (time.Time, error) {
	return codec.ParseTime(s)
}

// StoreFullEntry implements backend.Backend
func (b *Backend) StoreFullEntry() bool { return false }

// SupportsForceUpdate implements backend.Backend
func (b *Backend) SupportsForceUpdate() bool { return false }

var _ backend.Backend = (*Backend)(nil)
