package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends Records to a newline-delimited file, rotated daily by
// filename suffix (spec §4.6). Safe for concurrent use.
//
// Encryption: when an AEAD key is configured, each line is
// AES-256-GCM-sealed and hex-encoded before being written, so the file
// remains newline-delimited even at rest. No ecosystem library in the
// retrieved corpus wires a log-encryption scheme for this concern, so this
// uses the standard library's crypto/cipher AEAD directly (DESIGN.md).
type Logger struct {
	mu   sync.Mutex
	dir  string
	base string
	key  []byte // nil disables encryption

	currentDate string
	file        *os.File
}

// NewLogger creates a Logger writing to files derived from path, e.g.
// "audit.log" becomes "audit.log.2026-07-30". If key is non-nil it must be
// 32 bytes (AES-256).
func NewLogger(path string, key []byte) (*Logger, error) {
	if len(key) != 0 && len(key) != 32 {
		return nil, fmt.Errorf("audit: encryption key must be 32 bytes, got %d", len(key))
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: mkdir %s: %w", dir, err)
		}
	}
	return &Logger{dir: dir, base: filepath.Base(path), key: key}, nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Append writes rec to today's log file, rotating if the date has changed
// since the last write.
func (l *Logger) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	line := payload
	if l.key != nil {
		line, err = l.seal(payload)
		if err != nil {
			return fmt.Errorf("audit: seal: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date := rec.Timestamp.Format("2006-01-02")
	if err := l.ensureFile(date); err != nil {
		return err
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return l.file.Sync()
}

func (l *Logger) ensureFile(date string) error {
	if l.file != nil && l.currentDate == date {
		return nil
	}
	if l.file != nil {
		l.file.Close()
	}
	name := filepath.Join(l.dir, l.base+"."+date)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", name, err)
	}
	l.file = f
	l.currentDate = date
	return nil
}

func (l *Logger) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(l.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	encoded := make([]byte, hex.EncodedLen(len(sealed)))
	hex.Encode(encoded, sealed)
	return encoded, nil
}

func (l *Logger) open(line []byte) ([]byte, error) {
	if l.key == nil {
		return line, nil
	}
	sealed := make([]byte, hex.DecodedLen(len(line)))
	n, err := hex.Decode(sealed, line)
	if err != nil {
		return nil, err
	}
	sealed = sealed[:n]
	block, err := aes.NewCipher(l.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("audit: ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// Digest returns the sha256 hex digest of input, used for the audit log's
// input_digest field (spec §4.6) so raw tool inputs never need to be
// persisted verbatim.
func Digest(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
