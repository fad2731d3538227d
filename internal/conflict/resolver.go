// Package conflict detects and deterministically resolves divergent
// replicas of a key.
package conflict

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
)

// Strategy выбирает победителя
type Strategy string

const (
	LocalWins        Strategy = "LOCAL_WINS"
	RemoteWins       Strategy = "REMOTE_WINS"
	LastModifiedWins Strategy = "LAST_MODIFIED_WINS"
)

// MergeStrategy задаёт слияние двух объектов. Пустая стратегия означает "без слияния".
type MergeStrategy string

const (
	NoMerge      MergeStrategy = ""
	ShallowMerge MergeStrategy = "SHALLOW_MERGE"
	DeepMerge    MergeStrategy = "DEEP_MERGE"
	FieldLevel   MergeStrategy = "FIELD_LEVEL"
)

// Winner names the side whose value was taken.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerMerged Winner = "merged"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case LocalWins, RemoteWins, LastModifiedWins:
		return st, nil
	}
	return "", syncerr.Config("unknown conflict strategy %q", s)
}

// ParseMergeStrategy validates a configured merge strategy name.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch ms := MergeStrategy(s); ms {
	case NoMerge, ShallowMerge, DeepMerge, FieldLevel:
		return ms, nil
	}
	return "", syncerr.Config("unknown merge strategy %q", s)
}

// Info describes a detected conflict.
type Info struct {
	DetectedAt    time.Time
	ResolvedAt    time.Time
	Local         *models.Value
	Remote        *models.Value
	ResolvedValue *models.Value
	LocalMeta     *models.LocalSyncMetadata
	RemoteMeta    *models.RemoteMetadata
	ID            string
	Key           string
	Node          string // узел, на котором конфликт обнаружен и разрешён
	Strategy      Strategy
	MergeStrategy MergeStrategy
	Winner        Winner
	Resolved      bool
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Err     error
	Value   models.Value
	Winner  Winner
	Success bool
}

// Detect reports whether local and remote diverged: both sides present,
// values differ and so do their versions.
func Detect(local, remote *models.Value, localMeta *models.LocalSyncMetadata, remoteMeta *models.RemoteMetadata) bool {
	if local == nil || remote == nil || localMeta == nil || remoteMeta == nil {
		return false
	}
	if local.Equal(*remote) {
		return false
	}
	return localMeta.Version != remoteMeta.Version
}

// Resolver applies configured strategies.
type Resolver struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger, now: time.Now}
}

// NewInfo builds a conflict record for key with a fresh ID.
func (r *Resolver) NewInfo(key string, local, remote *models.Value, localMeta *models.LocalSyncMetadata, remoteMeta *models.RemoteMetadata) *Info {
	return &Info{
		ID:         ulid.MustNew(ulid.Timestamp(r.now()), rand.Reader).String(),
		Key:        key,
		Local:      local,
		Remote:     remote,
		LocalMeta:  localMeta,
		RemoteMeta: remoteMeta,
		DetectedAt: r.now(),
	}
}

// Resolve picks or merges a value for info. An unknown strategy yields an
// unsuccessful resolution carrying the local value.
func (r *Resolver) Resolve(info *Info, strategy Strategy, merge MergeStrategy) Resolution {
	info.Strategy = strategy
	info.MergeStrategy = merge

	local, remote := deref(info.Local), deref(info.Remote)

	var winner Winner
	switch strategy {
	case LocalWins:
		winner = WinnerLocal
	case RemoteWins:
		winner = WinnerRemote
	case LastModifiedWins:
		// При равных версиях побеждает remote
		winner = WinnerRemote
		if info.LocalMeta != nil && info.RemoteMeta != nil && info.LocalMeta.Version > info.RemoteMeta.Version {
			winner = WinnerLocal
		}
	default:
		r.logger.Error("Unknown conflict strategy", "key", info.Key, "strategy", strategy)
		return Resolution{
			Value:  local,
			Winner: WinnerLocal,
			Err:    fmt.Errorf("%w: unknown strategy %q", syncerr.ErrConflict, strategy),
		}
	}

	res := Resolution{Winner: winner, Success: true}
	if winner == WinnerLocal {
		res.Value = local.Clone()
	} else {
		res.Value = remote.Clone()
	}

	if merge != NoMerge && local.IsObject() && remote.IsObject() {
		merged, err := mergeObjects(local.Object(), remote.Object(), winner, merge)
		if err != nil {
			r.logger.Error("Unknown merge strategy", "key", info.Key, "merge_strategy", merge)
			return Resolution{Value: local, Winner: WinnerLocal, Err: err}
		}
		res.Value = models.ObjectValue(merged)
		res.Winner = WinnerMerged
	}

	info.Resolved = true
	info.ResolvedAt = r.now()
	info.Winner = res.Winner
	resolved := res.Value.Clone()
	info.ResolvedValue = &resolved

	r.logger.Info("Conflict resolved",
		"key", info.Key,
		"strategy", strategy,
		"merge_strategy", merge,
		"winner", res.Winner)
	return res
}

func deref(v *models.Value) models.Value {
	if v == nil {
		return models.Null()
	}
	return *v
}
