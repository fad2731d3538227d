package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/docsync/internal/models"
)

// Fingerprint содержит отпечаток значения и размер его сериализованной формы
type Fingerprint struct {
	Digest string // Digest hex-encoded BLAKE2b-256 от сериализованного значения
	Size   int    // Size размер сериализованного значения в байтах
}

// Serialize возвращает каноническую сериализацию значения (JSON с порядком вставки ключей)
func Serialize(v models.Value) ([]byte, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}
	return data, nil
}

// ComputeFingerprint сериализует значение и считает его отпечаток.
// Используется как дешёвый детектор изменений и для проверки целостности.
func ComputeFingerprint(v models.Value) (Fingerprint, error) {
	data, err := Serialize(v)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Digest: DigestBytes(data), Size: len(data)}, nil
}

// Digest возвращает только отпечаток значения
func Digest(v models.Value) (string, error) {
	fp, err := ComputeFingerprint(v)
	if err != nil {
		return "", err
	}
	return fp.Digest, nil
}

// DigestBytes хеширует произвольные байты BLAKE2b-256
func DigestBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FastHash быстрый некриптографический хеш для сравнения чанков
func FastHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// SampleHash хеширует samples равномерно распределённых окон по window байт.
// Дешёвая предварительная проверка для больших чанков: разные SampleHash
// гарантируют различие, одинаковые требуют полной проверки FastHash.
func SampleHash(data []byte, samples, window int) uint64 {
	if samples <= 0 || window <= 0 || len(data) <= samples*window {
		return FastHash(data)
	}

	d := xxhash.New()
	step := 0
	if samples > 1 {
		step = (len(data) - window) / (samples - 1)
	}
	for i := 0; i < samples; i++ {
		start := i * step
		_, _ = d.Write(data[start : start+window])
	}
	// Длина тоже участвует, чтобы отличать данные разного размера
	var lenBuf [8]byte
	n := uint64(len(data))
	for i := range lenBuf {
		lenBuf[i] = byte(n >> (8 * i))
	}
	_, _ = d.Write(lenBuf[:])
	return d.Sum64()
}
