package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	berrors "github.com/arkilian/rptbench/internal/errors"
	"github.com/arkilian/rptbench/internal/logging"
)

// CompressedExt is appended to every published object.
const CompressedExt = ".sz"

// DefaultFetchConcurrency bounds parallel downloads in FetchRun.
const DefaultFetchConcurrency = 4

// Publisher uploads snappy-compressed result files. Objects are laid out
// as <prefix>/<mode>/<run_id>/<file>.sz.
type Publisher struct {
	store       ObjectStorage
	prefix      string
	concurrency int
	logger      *zap.Logger
}

// NewPublisher creates a publisher writing below prefix.
func NewPublisher(store ObjectStorage, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:       store,
		prefix:      strings.Trim(prefix, "/"),
		concurrency: DefaultFetchConcurrency,
		logger:      logging.OrNop(logger),
	}
}

// RunPrefix returns the object prefix holding the files of one run.
func (p *Publisher) RunPrefix(runID, mode string) string {
	return path.Join(p.prefix, mode, runID) + "/"
}

// ObjectPath returns where a local file is published for a run.
func (p *Publisher) ObjectPath(runID, mode, file string) string {
	return p.RunPrefix(runID, mode) + filepath.Base(file) + CompressedExt
}

// Publish compresses and uploads files, returning their object paths in
// input order. The first failure stops publishing.
func (p *Publisher) Publish(ctx context.Context, runID, mode string, files []string) ([]string, error) {
	objects := make([]string, 0, len(files))
	for _, file := range files {
		objectPath := p.ObjectPath(runID, mode, file)
		if err := p.publishOne(ctx, file, objectPath); err != nil {
			return objects, err
		}
		p.logger.Info("published result file",
			zap.String("file", file),
			zap.String("object", objectPath))
		objects = append(objects, objectPath)
	}
	return objects, nil
}

func (p *Publisher) publishOne(ctx context.Context, file, objectPath string) error {
	tmp, err := os.CreateTemp("", "rptbench-*"+CompressedExt)
	if err != nil {
		return berrors.NewStorageError(berrors.CodeUploadFailed, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if err := compress(file, tmp); err != nil {
		tmp.Close()
		return berrors.NewStorageError(berrors.CodeUploadFailed, fmt.Sprintf("failed to compress %s", file), err)
	}
	if err := tmp.Close(); err != nil {
		return berrors.NewStorageError(berrors.CodeUploadFailed, "failed to close temp file", err)
	}

	if err := p.store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return berrors.NewStorageError(berrors.CodeUploadFailed, fmt.Sprintf("failed to upload %s", objectPath), err)
	}
	return nil
}

func compress(src string, dst io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Fetch downloads a published object and writes its decompressed content
// to localPath.
func (p *Publisher) Fetch(ctx context.Context, objectPath, localPath string) error {
	tmp, err := os.CreateTemp("", "rptbench-fetch-*"+CompressedExt)
	if err != nil {
		return berrors.NewStorageError(berrors.CodeDownloadFailed, "failed to create temp file", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := p.store.Download(ctx, objectPath, tmp.Name()); err != nil {
		msg := fmt.Sprintf("failed to download %s", objectPath)
		if errors.Is(err, ErrObjectNotFound) {
			msg = fmt.Sprintf("object %s not found", objectPath)
		}
		return berrors.NewStorageError(berrors.CodeDownloadFailed, msg, err)
	}

	if err := decompress(tmp.Name(), localPath); err != nil {
		return berrors.NewStorageError(berrors.CodeDownloadFailed, fmt.Sprintf("failed to decompress %s", objectPath), err)
	}
	return nil
}

func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FetchResult reports the outcome of FetchRun.
type FetchResult struct {
	// LocalPaths maps object path to the decompressed local file.
	LocalPaths map[string]string
	// Errors maps object path to its download failure.
	Errors map[string]error
}

// Files returns the fetched local files, sorted.
func (r *FetchResult) Files() []string {
	files := make([]string, 0, len(r.LocalPaths))
	for _, f := range r.LocalPaths {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// FetchRun downloads every published file of a run into dir in parallel.
// Per-object failures are collected in the result; an error is returned
// only when the run cannot be listed or has no objects.
func (p *Publisher) FetchRun(ctx context.Context, runID, mode, dir string) (*FetchResult, error) {
	prefix := p.RunPrefix(runID, mode)
	objects, err := p.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, berrors.NewStorageError(berrors.CodeDownloadFailed, fmt.Sprintf("failed to list %s", prefix), err)
	}
	if len(objects) == 0 {
		return nil, berrors.NewStorageError(berrors.CodeDownloadFailed, fmt.Sprintf("no published files under %s", prefix), nil)
	}

	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(p.concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, obj := range objects {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[obj] = err
			mu.Unlock()
			continue
		}

		local := filepath.Join(dir, strings.TrimSuffix(path.Base(obj), CompressedExt))
		wg.Add(1)
		go func(obj, local string) {
			defer sem.Release(1)
			defer wg.Done()

			err := p.Fetch(ctx, obj, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[obj] = err
				return
			}
			result.LocalPaths[obj] = local
		}(obj, local)
	}
	wg.Wait()

	p.logger.Info("fetched published run",
		zap.String("run_id", runID),
		zap.Int("files", len(result.LocalPaths)),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}
