package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutualExclusion(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	g1, err := c.Acquire(ctx, PriorityOperator)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		g2, err := c.Acquire(ctx, PriorityOperator)
		require.NoError(t, err)
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not succeed while first guard is held")
	case <-time.After(50 * time.Millisecond):
	}

	g1.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestOperatorPreemptsScanner(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()

	scanner, err := c.Acquire(ctx, PriorityScanner)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g, err := c.Acquire(ctx, PriorityOperator)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "operator")
		mu.Unlock()
		g.Release()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g, err := c.Acquire(ctx, PriorityScanner)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "scanner2")
		mu.Unlock()
		g.Release()
	}()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, scanner.YieldRequested())
	scanner.Release()
	wg.Wait()

	require.Len(t, order, 2)
	assert.Equal(t, "operator", order[0], "operator must be served before the second scanner")
}

func TestCancelRemovesWaiter(t *testing.T) {
	c := NewCoordinator()
	g, err := c.Acquire(context.Background(), PriorityOperator)
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Acquire(ctx, PriorityOperator)
	assert.ErrorIs(t, err, context.Canceled)
}
