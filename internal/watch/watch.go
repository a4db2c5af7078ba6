package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"
)

const defaultInterval = time.Second

// File polls path and calls fn whenever its content hash changes. The hash
// comparison means touch without edit stays quiet. A read failure (file
// deleted mid-watch) is skipped; the next successful read that differs from
// the last seen content still fires. Blocks until ctx is cancelled.
func File(ctx context.Context, path string, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = defaultInterval
	}
	last := fingerprint(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := fingerprint(path)
			if current == "" || current == last {
				continue
			}
			last = current
			fn()
		}
	}
}

func fingerprint(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
