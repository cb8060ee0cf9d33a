package completion

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/persistence/redis"
	"github.com/stretchr/testify/require"
)

func testAggregator(t *testing.T) (*Aggregator, persistence.CompletionDao) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rd.NewUniversalClient(&rd.UniversalOptions{Addrs: []string{mr.Addr()}})
	dao := redis.NewRedisCompletionDaoFromClient(client, "test")
	return NewAggregator(dao), dao
}

func awaitResolved(t *testing.T, a *Aggregator, cause string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Await(ctx, cause))
}

func TestGroupResolvesWhenAllMembersTerminal(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("x", []string{"a", "b"})
	require.False(t, a.Resolved("x"))

	a.NotifyTerminal("a")
	require.False(t, a.Resolved("x"), "must not release before every member is terminal")

	a.NotifyTerminal("b")
	require.True(t, a.Resolved("x"))
	awaitResolved(t, a, "x")
}

func TestAwaitBlocksUntilLastMember(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("x", []string{"a", "b"})
	a.NotifyTerminal("a")

	released := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released <- a.Await(ctx, "x")
	}()

	select {
	case <-released:
		t.Fatal("await released before the delayed member finished")
	case <-time.After(100 * time.Millisecond):
	}

	a.NotifyTerminal("b")
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("await never released")
	}
}

func TestEmptyGroupResolvesImmediately(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("x", nil)
	require.True(t, a.Resolved("x"))
}

func TestUnknownCauseIsResolved(t *testing.T) {
	a, _ := testAggregator(t)
	awaitResolved(t, a, "never-opened")
}

func TestChainedChildGroupHoldsParent(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("parent", []string{"a"})

	// instance a fires an event mid-flow; its handlers spawn b under a child
	// cause chained to the parent
	a.OpenChild("parent", "child", []string{"b"})

	a.NotifyTerminal("a")
	require.False(t, a.Resolved("parent"), "parent must wait for the chained child")

	a.NotifyTerminal("b")
	require.True(t, a.Resolved("child"))
	require.True(t, a.Resolved("parent"))
	awaitResolved(t, a, "parent")
}

func TestChildOfResolvedParentStandsAlone(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("parent", []string{"a"})
	a.NotifyTerminal("a")
	require.True(t, a.Resolved("parent"))

	a.OpenChild("parent", "child", []string{"b"})
	require.False(t, a.Resolved("child"))
	a.NotifyTerminal("b")
	require.True(t, a.Resolved("child"))
}

func TestPendingGroupBlocksUntilSealed(t *testing.T) {
	a, _ := testAggregator(t)
	a.OpenPending("", "x")
	require.False(t, a.Resolved("x"))

	a.Seal("x", []string{"a"})
	require.False(t, a.Resolved("x"))
	a.NotifyTerminal("a")
	require.True(t, a.Resolved("x"))
}

func TestPendingChildHoldsParentAcrossFanOut(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("parent", []string{"a"})

	// instance a fires an event; the child cause is pending until the
	// matcher fans out, and a terminates in between
	a.OpenPending("parent", "child")
	a.NotifyTerminal("a")
	require.False(t, a.Resolved("parent"))

	a.Seal("child", nil)
	require.True(t, a.Resolved("child"))
	require.True(t, a.Resolved("parent"))
}

func TestOnResolve(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("x", []string{"a"})

	fired := make(chan struct{})
	a.OnResolve("x", func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("continuation fired before resolution")
	case <-time.After(50 * time.Millisecond):
	}

	a.NotifyTerminal("a")
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never fired")
	}

	// already-resolved cause fires synchronously
	immediate := false
	a.OnResolve("x", func() { immediate = true })
	require.True(t, immediate)
}

func TestAwaitHonorsContext(t *testing.T) {
	a, _ := testAggregator(t)
	a.Open("x", []string{"a"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Await(ctx, "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroupStatePersisted(t *testing.T) {
	a, dao := testAggregator(t)
	a.Open("x", []string{"a", "b"})
	a.NotifyTerminal("a")

	record, err := dao.Get("x")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, record.Members)
	require.False(t, record.Resolved)

	a.NotifyTerminal("b")
	record, err = dao.Get("x")
	require.NoError(t, err)
	require.True(t, record.Resolved)
}

func TestRestoreRebuildsUnresolvedGroups(t *testing.T) {
	a, dao := testAggregator(t)
	a.Open("done", []string{"a"})
	a.NotifyTerminal("a")
	a.Open("parent", []string{"b"})
	a.OpenChild("parent", "child", []string{"c"})

	// a fresh aggregator over the same storage picks up where the first left off
	restored := NewAggregator(dao)
	require.NoError(t, restored.Restore())
	require.True(t, restored.Resolved("done"))
	require.False(t, restored.Resolved("parent"))
	require.False(t, restored.Resolved("child"))

	restored.NotifyTerminal("c")
	require.True(t, restored.Resolved("child"))
	require.False(t, restored.Resolved("parent"), "parent still has its own member")

	restored.NotifyTerminal("b")
	awaitResolved(t, restored, "parent")
}
