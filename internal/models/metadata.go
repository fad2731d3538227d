package models

import "strconv"

// SyncStatus описывает состояние синхронизации ключа
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"     // локальное изменение ждёт отправки
	SyncStatusInProgress SyncStatus = "in_progress" // операция выполняется
	SyncStatusSynced     SyncStatus = "synced"      // реплики согласованы
	SyncStatusFailed     SyncStatus = "failed"      // операция исчерпала попытки
	SyncStatusConflict   SyncStatus = "conflict"    // обнаружен конфликт, идёт разрешение
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusSynced, SyncStatusFailed, SyncStatusConflict:
		return true
	}
	return false
}

// LocalSyncMetadata хранится локально для каждого ключа.
// Digest пустой, если ключ удалён (удалять на сервере нечего).
type LocalSyncMetadata struct {
	Digest     string     `json:"digest"`      // Digest отпечаток последнего принятого значения
	SyncStatus SyncStatus `json:"sync_status"` // SyncStatus состояние синхронизации
	Version    uint64     `json:"version"`     // Version логический timestamp последнего изменения
}

// Clone returns a copy of m (nil-safe).
func (m *LocalSyncMetadata) Clone() *LocalSyncMetadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// RemoteMetadata компактная запись о ключе внутри metadata-карты документа.
type RemoteMetadata struct {
	Digest  string `json:"d"`
	Version uint64 `json:"v"`
}

// ToValue encodes the record in its remote shape {d, v}.
func (m RemoteMetadata) ToValue() Value {
	obj := NewObject()
	obj.Set("d", String(m.Digest))
	obj.Set("v", Value{kind: KindNumber, str: strconv.FormatUint(m.Version, 10)})
	return ObjectValue(obj)
}

// RemoteMetadataFromValue decodes a {d, v} record. Malformed records report false.
func RemoteMetadataFromValue(v Value) (RemoteMetadata, bool) {
	obj := v.Object()
	if obj == nil {
		return RemoteMetadata{}, false
	}
	d, ok := obj.Get("d")
	if !ok {
		return RemoteMetadata{}, false
	}
	digest, ok := d.AsString()
	if !ok {
		return RemoteMetadata{}, false
	}
	rawVersion, ok := obj.Get("v")
	if !ok {
		return RemoteMetadata{}, false
	}
	version, ok := rawVersion.AsUint()
	if !ok {
		return RemoteMetadata{}, false
	}
	return RemoteMetadata{Digest: digest, Version: version}, true
}
