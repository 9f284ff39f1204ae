// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryTask(t *testing.T) {
	p, err := New(2)
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 2, p.Cap())

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum int
	)
	for i := 1; i <= 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			sum += i
			mu.Unlock()
		}))
	}
	wg.Wait()
	assert.Equal(t, 55, sum)
}
