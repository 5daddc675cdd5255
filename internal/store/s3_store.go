package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	metaCacheKey  = "Cache-Key"
	metaTimestamp = "Timestamp"
	metaSessionID = "Session-Id"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// S3Store keeps one object per entry under {prefix}/entries/. The cache key,
// timestamp and session are mirrored into user metadata so scans only need
// object stats.
type S3Store struct {
	cl     *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create s3 client")
	}
	return NewS3StoreClient(cl, cfg.Bucket, cfg.Prefix), nil
}

func NewS3StoreClient(cl *minio.Client, bucket, prefix string) *S3Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{cl: cl, bucket: bucket, prefix: prefix + "entries/"}
}

func (s *S3Store) objectName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.prefix + hex.EncodeToString(sum[:]) + ".json"
}

func (s *S3Store) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode entry")
	}

	_, err = s.cl.PutObject(ctx, s.bucket, s.objectName(entry.Key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			metaCacheKey:  entry.Key,
			metaTimestamp: strconv.FormatInt(entry.Timestamp.UnixNano(), 10),
			metaSessionID: entry.SessionID,
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to upload entry")
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (*Entry, error) {
	obj, err := s.cl.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapErr(err, "failed to open entry")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapErr(err, "failed to read entry")
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode entry")
	}
	return &entry, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.cl.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if err := s.wrapErr(err, "failed to stat entry"); !IsNotFound(err) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *S3Store) wrapErr(err error, msg string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return errors.Wrap(err, errors.CodeNetwork, msg)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to delete entry")
	}
	return nil
}

func (s *S3Store) list(ctx context.Context) ([]string, error) {
	var names []string
	for object := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, errors.Wrap(object.Err, errors.CodeNetwork, "failed to list entries")
		}
		names = append(names, object.Key)
	}
	return names, nil
}

func (s *S3Store) Count(ctx context.Context) (int, error) {
	names, err := s.list(ctx)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (s *S3Store) ScanByTimestamp(ctx context.Context) ([]Meta, error) {
	names, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(names))
	for _, name := range names {
		info, err := s.cl.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
		if err != nil {
			continue
		}
		key := userMeta(info.UserMetadata, metaCacheKey)
		if key == "" {
			continue
		}
		ts := info.LastModified
		if nanos, err := strconv.ParseInt(userMeta(info.UserMetadata, metaTimestamp), 10, 64); err == nil {
			ts = time.Unix(0, nanos)
		}
		metas = append(metas, Meta{
			Key:       key,
			SessionID: userMeta(info.UserMetadata, metaSessionID),
			Timestamp: ts,
			SizeBytes: info.Size,
		})
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].Timestamp.Before(metas[j].Timestamp)
	})
	return metas, nil
}

// userMeta looks a metadata key up case-insensitively, servers differ in the
// canonical form they return.
func userMeta(md map[string]string, name string) string {
	for k, v := range md {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), name) {
			return v
		}
	}
	return ""
}

func (s *S3Store) Clear(ctx context.Context) error {
	names, err := s.list(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.cl.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrap(err, errors.CodeNetwork, "failed to delete entry")
		}
	}
	return nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(ErrUnavailable, errors.CodeUnavailable, err.Error())
	}
	if !ok {
		return errors.Wrapf(ErrUnavailable, errors.CodeUnavailable, "bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}
