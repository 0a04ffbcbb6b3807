// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"code.hybscloud.com/lfc"
)

func TestBuilderCollectorStrategy(t *testing.T) {
	if _, ok := lfc.New().BuildCollector().(*lfc.EpochCollector); !ok {
		t.Fatalf("default BuildCollector: want *EpochCollector")
	}
	if _, ok := lfc.New().Lazy().BuildCollector().(*lfc.LazyCollector); !ok {
		t.Fatalf("Lazy BuildCollector: want *LazyCollector")
	}
}

func TestBuilderDefaults(t *testing.T) {
	m := lfc.New().ElementSize(3).BuildIndexMap()
	defer m.Close()
	if m.ChunkSize() != lfc.DefaultChunkSize || m.Cap() != lfc.DefaultChunkSize {
		t.Fatalf("default chunk: got (%d, cap %d), want %d", m.ChunkSize(), m.Cap(), lfc.DefaultChunkSize)
	}
}

func TestBuilderValidation(t *testing.T) {
	expectPanic(t, "ElementSize(0)", func() { lfc.New().ElementSize(0) })
	expectPanic(t, "ChunkSize(0)", func() { lfc.New().ChunkSize(0) })
	expectPanic(t, "NodeLimit(1)", func() { lfc.New().NodeLimit(1) })
	expectPanic(t, "NewQueue(nil)", func() { lfc.NewQueue[int](nil) })
	expectPanic(t, "NewIndexMap(nil collector)", func() { lfc.NewIndexMap(4, 4, nil) })
}

func TestBuilderLoggerReportsAllocationFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	q := lfc.BuildQueue[int](lfc.New().NodeLimit(2).Logger(log))
	defer q.Close()

	v := 1
	if err := q.Enqueue(&v); err != nil {
		t.Fatalf("Enqueue within limit: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("logged on success: %q", buf.String())
	}
	if err := q.Enqueue(&v); !errors.Is(err, lfc.ErrAllocationFailed) {
		t.Fatalf("Enqueue beyond limit: got %v, want ErrAllocationFailed", err)
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "node limit") {
		t.Fatalf("log output: got %q", buf.String())
	}
}
