// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/fingerprint"
)

func TestBoundProducerLimitsConcurrency(t *testing.T) {
	var current, maxSeen int32
	produce := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return []byte("data"), "text/plain", nil
	}

	bounded := BoundProducer(2, produce)

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			_, _, err := bounded(context.Background(), fingerprint.Fingerprint("fp"+string(rune('a'+i))))
			assert.NoError(t, err)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestBoundProducerRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	produce := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		<-block
		return nil, "", nil
	}
	bounded := BoundProducer(1, produce)

	go func() { _, _, _ = bounded(context.Background(), fingerprint.Fingerprint("busy")) }()
	time.Sleep(10 * time.Millisecond) // let the first call occupy the single slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := bounded(ctx, fingerprint.Fingerprint("blocked"))
	require.Error(t, err)

	close(block)
}
