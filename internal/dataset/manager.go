// Package dataset keeps a local snapshot of the Open Food Facts parquet dump
// fresh for the parquet-backed crowd-sourced catalog.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noot-app/foodfit-server/internal/version"
)

// hfParquetURL is the direct file behind the Hugging Face dataset page
const hfParquetURL = "https://huggingface.co/datasets/openfoodfacts/product-database/resolve/main/food.parquet"

// Metadata describes the snapshot on disk
type Metadata struct {
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
	ETag         string    `json:"etag,omitempty"`
	Size         int64     `json:"size"`
}

// Options configures a Manager
type Options struct {
	URL          string
	ParquetPath  string
	MetadataPath string
	LockPath     string
	// DisableRemoteCheck trusts any existing snapshot without a HEAD request
	DisableRemoteCheck bool
	// IgnoreLock removes a stale lock left by a crashed instance
	IgnoreLock bool
	// LockWait bounds how long to wait for another instance's download
	LockWait   time.Duration
	HTTPClient *http.Client
}

// Manager downloads and refreshes the parquet snapshot
type Manager struct {
	opts Options
	http *http.Client
	log  *slog.Logger
}

// NewManager creates a dataset manager
func NewManager(opts Options, logger *slog.Logger) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Minute
	}
	return &Manager{opts: opts, http: client, log: logger}
}

// ParquetPath is where the snapshot lives
func (m *Manager) ParquetPath() string {
	return m.opts.ParquetPath
}

func (m *Manager) downloadURL() string {
	if strings.Contains(m.opts.URL, "huggingface.co/datasets/openfoodfacts/") && !strings.HasSuffix(m.opts.URL, ".parquet") {
		return hfParquetURL
	}
	return m.opts.URL
}

// EnsureDataset makes sure a snapshot exists and, unless remote checks are
// disabled, that it matches the remote file
func (m *Manager) EnsureDataset(ctx context.Context) error {
	_, err := m.Refresh(ctx)
	return err
}

// Refresh downloads a new snapshot when the local one is missing or stale.
// It reports whether the file on disk changed.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	start := time.Now()
	m.log.Info("Checking parquet snapshot", "parquet_path", m.opts.ParquetPath)

	if _, err := os.Stat(m.opts.ParquetPath); err == nil {
		if m.opts.DisableRemoteCheck {
			m.log.Info("Remote checks disabled, using local snapshot", "duration", time.Since(start))
			return false, nil
		}

		upToDate, err := m.isUpToDate(ctx)
		if err != nil {
			m.log.Warn("Failed to verify snapshot freshness", "error", err)
		}
		if upToDate {
			m.log.Info("Parquet snapshot is up-to-date", "duration", time.Since(start))
			return false, nil
		}
	}

	if err := m.downloadWithLock(ctx); err != nil {
		return false, fmt.Errorf("failed to download dataset: %w", err)
	}

	m.log.Info("Parquet snapshot refreshed", "duration", time.Since(start))
	return true, nil
}

// RunRefresher calls Refresh every interval until ctx is done. onUpdate runs
// after each refresh that replaced the file.
func (m *Manager) RunRefresher(ctx context.Context, interval time.Duration, onUpdate func()) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := m.Refresh(ctx)
			if err != nil {
				m.log.Error("Scheduled snapshot refresh failed", "error", err)
				continue
			}
			if changed && onUpdate != nil {
				onUpdate()
			}
		}
	}
}

// Metadata returns the metadata of the current snapshot
func (m *Manager) Metadata() (*Metadata, error) {
	return m.loadMetadata()
}

func (m *Manager) isUpToDate(ctx context.Context) (bool, error) {
	local, err := m.loadMetadata()
	if err != nil {
		m.log.Debug("No local snapshot metadata", "error", err)
		return false, nil
	}

	remote, err := m.remoteMetadata(ctx)
	if err != nil {
		return false, err
	}

	if remote.ETag != "" && local.ETag != "" {
		m.log.Debug("ETag comparison", "local", local.ETag, "remote", remote.ETag)
		return remote.ETag == local.ETag, nil
	}

	m.log.Debug("Size comparison", "local", local.Size, "remote", remote.Size)
	return remote.Size > 0 && remote.Size == local.Size, nil
}

func (m *Manager) remoteMetadata(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.downloadURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD request failed with status: %d", resp.StatusCode)
	}

	return &Metadata{ETag: resp.Header.Get("ETag"), Size: resp.ContentLength}, nil
}

func (m *Manager) downloadWithLock(ctx context.Context) error {
	if m.opts.IgnoreLock {
		if err := os.Remove(m.opts.LockPath); err == nil {
			m.log.Warn("IGNORE_LOCK enabled, removed existing lock file", "lock_path", m.opts.LockPath)
		}
	}

	lock, err := acquireLock(m.opts.LockPath)
	if err != nil {
		if !m.opts.IgnoreLock {
			m.log.Info("Another instance is downloading, waiting", "lock_path", m.opts.LockPath)
			return m.waitForDownload(ctx)
		}
		m.log.Warn("IGNORE_LOCK enabled but lock still held, downloading anyway", "error", err)
	}
	if lock != nil {
		defer releaseLock(lock, m.opts.LockPath)
	}

	if err := os.MkdirAll(filepath.Dir(m.opts.ParquetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// same directory as the target, so the final rename is atomic
	tmpPath := m.opts.ParquetPath + ".tmp"
	meta, err := m.download(ctx, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, m.opts.ParquetPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	if err := m.saveMetadata(meta); err != nil {
		m.log.Warn("Failed to save snapshot metadata", "error", err)
	}

	m.log.Info("Parquet snapshot downloaded", "size", meta.Size, "sha256", meta.SHA256[:16]+"...")
	return nil
}

// download streams the remote file to path, hashing it on the way
func (m *Manager) download(ctx context.Context, path string) (*Metadata, error) {
	start := time.Now()
	url := m.downloadURL()
	m.log.Info("Downloading parquet snapshot", "url", url, "path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hash), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync snapshot: %w", err)
	}

	m.log.Info("Download completed", "bytes", written, "duration", time.Since(start))
	return &Metadata{
		SHA256:       hex.EncodeToString(hash.Sum(nil)),
		DownloadedAt: time.Now().UTC(),
		ETag:         resp.Header.Get("ETag"),
		Size:         written,
	}, nil
}

func (m *Manager) waitForDownload(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	timeout := time.After(m.opts.LockWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timeout waiting for download by other instance")
		case <-ticker.C:
			if _, err := os.Stat(m.opts.LockPath); os.IsNotExist(err) {
				if _, err := os.Stat(m.opts.ParquetPath); err == nil {
					m.log.Info("Snapshot available after other instance completed")
					return nil
				}
			}
		}
	}
}

func (m *Manager) loadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Manager) saveMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.opts.MetadataPath, data, 0o644)
}

// acquireLock creates the lock file, failing if it already exists
func acquireLock(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func releaseLock(f *os.File, lockPath string) {
	_ = f.Close()
	_ = os.Remove(lockPath)
}

// computeSHA256 hashes a file on disk
func computeSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Verify checks the snapshot on disk against the recorded checksum
func (m *Manager) Verify() error {
	meta, err := m.loadMetadata()
	if err != nil {
		return fmt.Errorf("failed to load snapshot metadata: %w", err)
	}
	sum, err := computeSHA256(m.opts.ParquetPath)
	if err != nil {
		return fmt.Errorf("failed to hash snapshot: %w", err)
	}
	if sum != meta.SHA256 {
		return fmt.Errorf("snapshot checksum mismatch: have %s, recorded %s", sum, meta.SHA256)
	}
	return nil
}
