// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfc"
)

// ExampleQueue demonstrates node ownership: the creator's reference travels
// with the node and the popper destroys it.
func ExampleQueue() {
	q := lfc.NewQueue[string](lfc.NewEpochCollector())
	defer q.Close()

	for _, s := range []string{"alpha", "beta", "gamma"} {
		n, err := q.NewNode(s)
		if err != nil {
			panic(err)
		}
		q.Push(n)
	}

	for {
		n, err := q.Pop()
		if lfc.IsWouldBlock(err) {
			break
		}
		fmt.Println(n.Value)
		n.Destroy()
	}

	// Output:
	// alpha
	// beta
	// gamma
}

// ExampleBuildQueue shows the value-oriented Enqueue and Dequeue wrappers
// with producer and consumer goroutines.
func ExampleBuildQueue() {
	q := lfc.BuildQueue[int](lfc.New().Lazy())
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 4; i++ {
			if err := q.Enqueue(&i); err != nil {
				panic(err)
			}
		}
	}()

	sum := 0
	backoff := iox.Backoff{}
	for received := 0; received < 4; {
		v, err := q.Dequeue()
		if err != nil {
			backoff.Wait()
			continue
		}
		backoff.Reset()
		sum += v
		received++
	}
	wg.Wait()
	fmt.Println("sum:", sum)

	// Output:
	// sum: 10
}

// ExampleIndexMap stores fixed-size records and edits them in place.
func ExampleIndexMap() {
	m := lfc.New().ElementSize(4).ChunkSize(2).BuildIndexMap()
	defer m.Close()

	for _, s := range []string{"ab01", "cd02", "ef03"} {
		i, _ := m.Append([]byte(s))
		fmt.Println("appended at", i)
	}

	old := make([]byte, 4)
	m.Replace(1, []byte("CD02"), old)
	fmt.Printf("replaced %s\n", old)

	fmt.Println("exact:", m.ReplaceExact(1, []byte("xx99"), []byte("cd02")))

	_ = m.Insert(0, []byte("zz00"))
	out := make([]byte, 4)
	var parts []string
	for i := range m.Len() {
		m.Get(i, out)
		parts = append(parts, fmt.Sprintf("%d=%s", i, out))
	}
	fmt.Println(strings.Join(parts, " "))

	// Output:
	// appended at 0
	// appended at 1
	// appended at 2
	// replaced cd02
	// exact: false
	// 0=zz00 1=ab01 2=CD02 3=ef03
}

// ExampleIndexMap_allocationFailure shows a byte budget refusing growth.
func ExampleIndexMap_allocationFailure() {
	// Size the budget to exactly one initial block.
	probe := lfc.NewLimitAllocator(1 << 20)
	m0 := lfc.New().ElementSize(2).ChunkSize(2).Allocator(probe).BuildIndexMap()
	budget := probe.InUse()
	m0.Close()

	a := lfc.NewLimitAllocator(budget)
	m := lfc.New().ElementSize(2).ChunkSize(2).Allocator(a).BuildIndexMap()
	defer m.Close()

	for _, s := range []string{"aa", "bb", "cc"} {
		i, err := m.Append([]byte(s))
		if errors.Is(err, lfc.ErrAllocationFailed) {
			fmt.Println(s, "refused")
			continue
		}
		fmt.Println(s, "at", i)
	}

	// Output:
	// aa at 0
	// bb at 1
	// cc refused
}

// ExampleEpochCollector retires an object swapped out of a shared slot.
func ExampleEpochCollector() {
	type config struct{ version int }

	c := lfc.NewEpochCollector()
	current := &config{version: 1}

	g := c.Begin()
	old := current
	current = &config{version: 2}
	g.Manage(old, func(item any) {
		fmt.Println("reclaimed version", item.(*config).version)
	})
	g.End()

	fmt.Println("current version", current.version)
	c.Close()

	// Output:
	// current version 2
	// reclaimed version 1
}

// ExampleIDPool assigns small integer IDs to workers.
func ExampleIDPool() {
	p := lfc.NewIDPool(2)

	a := p.Assign()
	b := p.Assign()
	_, err := p.TryAssign()
	fmt.Println(a, b, lfc.IsWouldBlock(err))

	p.Recycle(a)
	fmt.Println(p.Assign())

	// Output:
	// 0 1 true
	// 0
}
