// Package datastore uploads local code snapshots to the workspace default
// datastore. Uploads are not content-addressed: every call writes a complete
// copy under a fresh prefix.
package datastore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/animus-labs/wsctl/internal/platform/logging"
	"github.com/animus-labs/wsctl/internal/platform/objectstore"
	"github.com/animus-labs/wsctl/internal/workspace"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const uploadRoot = "LocalUpload"

var skippedDirs = map[string]bool{
	".git":               true,
	"__pycache__":        true,
	".ipynb_checkpoints": true,
	".venv":              true,
}

// Putter is the subset of *minio.Client the uploader needs.
type Putter interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Info describes the default datastore as reported by the control plane.
type Info struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	UseSSL   bool   `json:"use_ssl"`
}

type secrets struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token,omitempty"`
}

// CodeRef points at one uploaded snapshot.
type CodeRef struct {
	URI       string
	Datastore string
	Prefix    string
	Files     int
	Bytes     int64
}

type Uploader struct {
	client    *workspace.Client
	logger    *slog.Logger
	newPutter func(objectstore.Config) (Putter, error)

	mu     sync.Mutex
	info   *Info
	putter Putter
}

func NewUploader(client *workspace.Client, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Uploader{
		client: client,
		logger: logger,
		newPutter: func(cfg objectstore.Config) (Putter, error) {
			return objectstore.NewMinIOClient(cfg)
		},
	}
}

func (u *Uploader) connect(ctx context.Context) (Info, Putter, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.putter != nil {
		return *u.info, u.putter, nil
	}

	var info Info
	if err := u.client.Do(ctx, http.MethodGet, u.client.Path("datastores", "default"), nil, &info); err != nil {
		return Info{}, nil, fmt.Errorf("get default datastore: %w", err)
	}
	var sec secrets
	if err := u.client.Do(ctx, http.MethodPost, u.client.Path("datastores", "default", "list-secrets"), nil, &sec); err != nil {
		return Info{}, nil, fmt.Errorf("list datastore secrets: %w", err)
	}
	putter, err := u.newPutter(objectstore.Config{
		Endpoint:     info.Endpoint,
		AccessKey:    sec.AccessKey,
		SecretKey:    sec.SecretKey,
		SessionToken: sec.SessionToken,
		Region:       info.Region,
		UseSSL:       info.UseSSL,
		Bucket:       info.Bucket,
	})
	if err != nil {
		return Info{}, nil, fmt.Errorf("datastore client: %w", err)
	}
	u.info = &info
	u.putter = putter
	return info, putter, nil
}

// UploadDir copies the file or directory at localPath to
// LocalUpload/<uuid>/<base name> and returns its datastore URI.
func (u *Uploader) UploadDir(ctx context.Context, localPath string) (CodeRef, error) {
	root, err := filepath.Abs(localPath)
	if err != nil {
		return CodeRef{}, err
	}
	rootInfo, err := os.Stat(root)
	if err != nil {
		return CodeRef{}, fmt.Errorf("code path: %w", err)
	}

	info, putter, err := u.connect(ctx)
	if err != nil {
		return CodeRef{}, err
	}

	prefix := path.Join(uploadRoot, uuid.NewString(), filepath.Base(root))
	ref := CodeRef{
		URI:       fmt.Sprintf("datastore://%s/paths/%s", info.Name, prefix),
		Datastore: info.Name,
		Prefix:    prefix,
	}

	upload := func(file, key string) error {
		n, err := putFile(ctx, putter, info.Bucket, file, key)
		if err != nil {
			return fmt.Errorf("upload %s: %w", file, err)
		}
		ref.Files++
		ref.Bytes += n
		return nil
	}

	if !rootInfo.IsDir() {
		if err := upload(root, prefix); err != nil {
			return CodeRef{}, err
		}
	} else {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if p != root && skippedDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			return upload(p, path.Join(prefix, filepath.ToSlash(rel)))
		})
		if err != nil {
			return CodeRef{}, err
		}
	}

	u.logger.Info("code uploaded",
		"datastore", info.Name,
		"prefix", ref.Prefix,
		"files", ref.Files,
		"bytes", ref.Bytes,
	)
	return ref, nil
}

func putFile(ctx context.Context, putter Putter, bucket, file, key string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := putter.PutObject(ctx, bucket, key, f, st.Size(), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return 0, err
	}
	return st.Size(), nil
}
