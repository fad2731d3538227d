package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
)

// RecoveryStrategy решает судьбу ключа, чьё содержимое не совпало с удалённым digest
type RecoveryStrategy string

const (
	ForceRefresh RecoveryStrategy = "FORCE_REFRESH"
	UseLocal     RecoveryStrategy = "USE_LOCAL"
	UseRemote    RecoveryStrategy = "USE_REMOTE"
	Skip         RecoveryStrategy = "SKIP"
)

const (
	DefaultIntegrityRetries = 3
	DefaultIntegrityDelay   = time.Second

	diagnosticsLimit = 50
)

var errDigestMismatch = fmt.Errorf("%w: digest mismatch", syncerr.ErrIntegrity)

// ParseRecoveryStrategy validates a configured recovery strategy name.
func ParseRecoveryStrategy(s string) (RecoveryStrategy, error) {
	switch rs := RecoveryStrategy(s); rs {
	case ForceRefresh, UseLocal, UseRemote, Skip:
		return rs, nil
	}
	return "", syncerr.Config("unknown integrity recovery strategy %q", s)
}

// IntegrityConfig tunes verification of fetched values. A negative
// RetryDelay retries without pausing.
type IntegrityConfig struct {
	Recovery   RecoveryStrategy
	MaxRetries int
	RetryDelay time.Duration
}

// IntegrityError describes a value whose digest never matched the remote
// metadata. It matches syncerr.ErrIntegrity.
type IntegrityError struct {
	At        time.Time
	Key       string
	Node      string
	Expected  string
	Actual    string
	Recovery  RecoveryStrategy
	Attempts  int
	Recovered bool
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %q: expected digest %q, got %q after %d attempts (recovery %s, recovered %t)",
		e.Key, e.Expected, e.Actual, e.Attempts, e.Recovery, e.Recovered)
}

func (e *IntegrityError) Unwrap() error {
	return syncerr.ErrIntegrity
}

// fetched is a remote value together with the metadata it was checked against.
type fetched struct {
	meta   *models.RemoteMetadata
	value  models.Value
	digest string
	found  bool
}

func (f fetched) matches() bool {
	return f.found && f.meta != nil && f.digest == f.meta.Digest
}

// diagnostics хранит последние ошибки целостности
type diagnostics struct {
	items []IntegrityError
	mu    sync.Mutex
}

func (d *diagnostics) record(e IntegrityError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, e)
	if len(d.items) > diagnosticsLimit {
		d.items = d.items[len(d.items)-diagnosticsLimit:]
	}
}

func (d *diagnostics) recent() []IntegrityError {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]IntegrityError, len(d.items))
	copy(out, d.items)
	return out
}

// fetchRemote reads the remote record and value of key. With refresh both
// caches are bypassed.
func (c *Controller) fetchRemote(ctx context.Context, key, docPath string, refresh bool) (fetched, error) {
	var (
		rm  *models.RemoteMetadata
		err error
	)
	if refresh {
		rm, err = c.meta.RefreshRemote(ctx, key)
		c.codec.InvalidateCache(docPath, key)
	} else {
		rm, err = c.meta.GetRemote(ctx, key)
	}
	if err != nil {
		return fetched{}, err
	}

	f := fetched{meta: rm}
	if rm != nil && rm.Digest == "" {
		// Надгробие: содержимого нет и не должно быть
		return f, nil
	}

	f.value, f.found, err = c.codec.Read(ctx, docPath, key)
	if err != nil {
		return fetched{}, err
	}
	if f.found {
		if f.digest, err = crypto.Digest(f.value); err != nil {
			return fetched{}, err
		}
	}
	return f, nil
}

// verify re-fetches key until its digest matches the remote metadata or the
// retry budget is spent. It returns the last fetched state and the number of
// checks made; a persistent mismatch returns errDigestMismatch.
func (c *Controller) verify(ctx context.Context, key, docPath string, first fetched) (fetched, int, error) {
	current := first
	attempts := 0

	backoff := retry.WithMaxRetries(uint64(c.cfg.Integrity.MaxRetries), retry.NewConstant(c.cfg.Integrity.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempts > 0 {
			next, err := c.fetchRemote(ctx, key, docPath, true)
			if err != nil {
				return err
			}
			current = next
		}
		attempts++
		if current.matches() {
			return nil
		}
		c.logger.Debug("Digest mismatch, refetching", "key", key, "attempt", attempts)
		return retry.RetryableError(errDigestMismatch)
	})
	return current, attempts, err
}

// recoverIntegrity applies the configured strategy to a key whose value
// kept failing verification.
func (c *Controller) recoverIntegrity(ctx context.Context, key, docPath string, last fetched, attempts int, local *models.Value) keyOutcome {
	out := keyOutcome{key: key, integrity: true}
	strategy := c.cfg.Integrity.Recovery

	ie := &IntegrityError{
		At:       time.Now(),
		Key:      key,
		Node:     c.clock.NodeID(),
		Actual:   last.digest,
		Attempts: attempts,
		Recovery: strategy,
	}
	if last.meta != nil {
		ie.Expected = last.meta.Digest
	}

	var err error
	switch strategy {
	case ForceRefresh:
		c.meta.InvalidateAll()
		c.codec.PurgeCache()
		var next fetched
		next, err = c.fetchRemote(ctx, key, docPath, true)
		if err == nil && next.matches() {
			err = c.commitRemote(ctx, key, next)
			ie.Recovered = err == nil
		}

	case UseLocal, UseRemote:
		if strategy == UseLocal && local != nil {
			err = c.stampLocal(ctx, key, *local, last.meta)
			ie.Recovered = err == nil
			break
		}
		if last.found && last.meta != nil {
			// Принимаем значение как есть, digest пересчитан по содержимому
			accepted := last
			accepted.meta = &models.RemoteMetadata{Digest: last.digest, Version: last.meta.Version}
			err = c.commitRemote(ctx, key, accepted)
			ie.Recovered = err == nil
		}
	}

	c.reportIntegrity(ctx, ie)

	switch {
	case ie.Recovered:
		out.status = statusHydrated
	case err != nil:
		out.status = statusFailed
		out.err = errors.Join(ie, err)
	default:
		out.status = statusFailed
		out.err = ie
	}
	return out
}

// stampLocal keeps the local value and records it as agreeing with remote version.
func (c *Controller) stampLocal(ctx context.Context, key string, local models.Value, rm *models.RemoteMetadata) error {
	digest, err := crypto.Digest(local)
	if err != nil {
		return err
	}
	var version uint64
	if rm != nil {
		version = rm.Version
		c.clock.Observe(version)
	}
	return c.meta.Set(ctx, key, &models.LocalSyncMetadata{
		Digest:     digest,
		SyncStatus: models.SyncStatusSynced,
		Version:    version,
	}, false)
}

func (c *Controller) reportIntegrity(ctx context.Context, ie *IntegrityError) {
	c.diagnostics.record(*ie)
	c.metrics.IntegrityFailure(string(ie.Recovery))
	c.logger.Warn("Integrity check failed",
		"key", ie.Key,
		"expected", ie.Expected,
		"actual", ie.Actual,
		"recovery", ie.Recovery,
		"recovered", ie.Recovered)
	if c.sink != nil {
		c.sink.Report(ctx, ie)
	}
}
