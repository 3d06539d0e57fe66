package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/discovery-gateway/pkg/metrics"
	"github.com/hewenyu/discovery-gateway/pkg/model"
	"github.com/hewenyu/discovery-gateway/pkg/storage"
	"github.com/hewenyu/discovery-gateway/pkg/storage/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := newFakeClock()
	return New(memory.NewServiceStorage(), WithClock(clock.Now), WithMetrics(metrics.New())), clock
}

func TestRegistry_RegisterRoundTrip(t *testing.T) {
	r, clock := newTestRegistry()
	ctx := context.Background()

	record, err := r.Register(ctx, &model.RegisterRequest{
		ServiceID:   "inventory-1",
		ServiceName: "inventory",
		ServiceURL:  "http://svc:9000",
		Metadata:    map[string]any{"version": "1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "inventory-1", record.ID)

	saved, err := r.Get(ctx, "inventory-1")
	require.NoError(t, err)
	assert.Equal(t, "inventory", saved.Name)
	assert.Equal(t, "http://svc:9000", saved.BaseURL)
	assert.Equal(t, "http://svc:9000/health", saved.HealthCheckURL, "未指定时使用默认健康检查地址")
	assert.Equal(t, "1.0", saved.Metadata["version"])
	assert.True(t, saved.Active)
	assert.Equal(t, clock.Now(), saved.RegisteredAt)
	assert.Equal(t, clock.Now(), saved.LastHeartbeat)
}

func TestRegistry_RegisterGeneratesID(t *testing.T) {
	r, _ := newTestRegistry()

	record, err := r.Register(context.Background(), &model.RegisterRequest{
		ServiceName:    "inventory",
		ServiceURL:     "http://svc:9000",
		HealthCheckURL: "http://svc:9000/ping",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(record.ID)
	assert.NoError(t, err, "未提供ID时应生成UUID")
	assert.Equal(t, "http://svc:9000/ping", record.HealthCheckURL)
}

func TestRegistry_RegisterCopiesMetadata(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	md := map[string]any{"zone": "a"}
	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "inventory", ServiceURL: "http://svc", Metadata: md})
	require.NoError(t, err)

	md["zone"] = "b"
	saved, err := r.Get(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "a", saved.Metadata["zone"])
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "first", ServiceURL: "http://first"})
	require.NoError(t, err)

	_, err = r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "second", ServiceURL: "http://second"})
	require.Error(t, err)
	assert.True(t, storage.IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "svc-1")

	// 原记录保持不变
	saved, err := r.Get(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "first", saved.Name)
	assert.Equal(t, "http://first", saved.BaseURL)

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceURL: "http://svc"})
	assert.Equal(t, storage.ErrInvalidArgument, storage.ErrorCode(err))

	_, err = r.Register(ctx, &model.RegisterRequest{ServiceName: "inventory", ServiceURL: "  "})
	assert.Equal(t, storage.ErrInvalidArgument, storage.ErrorCode(err))

	_, err = r.Register(ctx, nil)
	assert.Equal(t, storage.ErrInvalidArgument, storage.ErrorCode(err))
}

func TestRegistry_Unregister(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "inventory", ServiceURL: "http://svc"})
	require.NoError(t, err)

	err = r.Unregister(ctx, "ghost")
	assert.True(t, storage.IsNotFound(err))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "注销不存在的服务不影响存储")

	require.NoError(t, r.Unregister(ctx, "svc-1"))
	_, err = r.Get(ctx, "svc-1")
	assert.True(t, storage.IsNotFound(err))
}

func TestRegistry_GetByName(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		name := "orders"
		if i == 2 {
			name = "inventory"
		}
		_, err := r.Register(ctx, &model.RegisterRequest{
			ServiceID:   fmt.Sprintf("svc-%d", i),
			ServiceName: name,
			ServiceURL:  fmt.Sprintf("http://svc-%d", i),
		})
		require.NoError(t, err)
	}

	orders, err := r.GetByName(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "svc-1", orders[0].ID)
	assert.Equal(t, "svc-3", orders[1].ID)

	none, err := r.GetByName(ctx, "ghost")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRegistry_SweepAndRevive(t *testing.T) {
	r, clock := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "old", ServiceName: "inventory", ServiceURL: "http://old"})
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	_, err = r.Register(ctx, &model.RegisterRequest{ServiceID: "fresh", ServiceName: "inventory", ServiceURL: "http://fresh"})
	require.NoError(t, err)

	clock.Advance(15 * time.Second)

	// old: 35s未心跳，fresh: 15s未心跳
	ids, err := r.Sweep(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, old.Active)

	fresh, err := r.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Active, "时间窗口内的服务不受影响")

	// 已是非活跃的过期实例仍会被再次报告
	ids, err = r.Sweep(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ID)

	// 心跳使服务复活
	ts, err := r.Heartbeat(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), ts)

	old, err = r.Get(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.Active)
	assert.Equal(t, ts, old.LastHeartbeat)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 2, Total: 2}, stats)
}

func TestRegistry_GaugesFollowRevival(t *testing.T) {
	m := metrics.New()
	clock := newFakeClock()
	r := New(memory.NewServiceStorage(), WithClock(clock.Now), WithMetrics(m))
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "a", ServiceName: "inventory", ServiceURL: "http://a"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = r.Sweep(ctx, time.Second)
	require.NoError(t, err)
	assertServiceGauges(t, m, 0, 1)

	_, err = r.Heartbeat(ctx, "a")
	require.NoError(t, err)
	assertServiceGauges(t, m, 1, 0)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1, Total: 1}, stats)
}

func assertServiceGauges(t *testing.T, m *metrics.Metrics, active, inactive int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP discovery_gateway_registry_services Number of registered service instances by state.
# TYPE discovery_gateway_registry_services gauge
discovery_gateway_registry_services{state="active"} %d
discovery_gateway_registry_services{state="inactive"} %d
`, active, inactive)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "discovery_gateway_registry_services"))
}

func TestRegistry_SweepBoundary(t *testing.T) {
	r, clock := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "inventory", ServiceURL: "http://svc"})
	require.NoError(t, err)

	// 恰好等于超时时间不算过期
	clock.Advance(30 * time.Second)
	ids, err := r.Sweep(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, ids)

	clock.Advance(time.Millisecond)
	ids, err = r.Sweep(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-1"}, ids)
}

func TestRegistry_HeartbeatAndDeactivateNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Heartbeat(ctx, "ghost")
	assert.True(t, storage.IsNotFound(err))

	err = r.Deactivate(ctx, "ghost")
	assert.True(t, storage.IsNotFound(err))

	_, err = r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "inventory", ServiceURL: "http://svc"})
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, "svc-1"))

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 0, Total: 1}, stats)
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Register(ctx, &model.RegisterRequest{
				ServiceID:   fmt.Sprintf("svc-%d", i),
				ServiceName: fmt.Sprintf("name-%d", i),
				ServiceURL:  fmt.Sprintf("http://svc-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
	for _, record := range all {
		var i int
		_, err := fmt.Sscanf(record.ID, "svc-%d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("name-%d", i), record.Name)
		assert.Equal(t, fmt.Sprintf("http://svc-%d", i), record.BaseURL)
	}
}

func TestRegistry_StartSweeper(t *testing.T) {
	r, clock := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceID: "svc-1", ServiceName: "inventory", ServiceURL: "http://svc"})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	done := r.StartSweeper(ctx, 10*time.Millisecond, 30*time.Second)

	assert.Eventually(t, func() bool {
		record, err := r.Get(context.Background(), "svc-1")
		return err == nil && !record.Active
	}, time.Second, 10*time.Millisecond, "后台清理应将过期服务标记为非活跃")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("取消上下文后清理任务应退出")
	}
}

func TestRegistry_StartSweeperDisabled(t *testing.T) {
	r, _ := newTestRegistry()
	done := r.StartSweeper(context.Background(), 0, time.Second)

	select {
	case <-done:
	default:
		t.Fatal("间隔为0时不应启动清理任务")
	}
}

// failingStorage 所有操作都返回后端错误
type failingStorage struct {
	storage.ServiceStorage
}

var errBackend = errors.New("backend down")

func (failingStorage) Register(context.Context, *model.ServiceRecord) (bool, error) {
	return false, storage.NewInternalError("写入失败", errBackend)
}

func (failingStorage) List(context.Context) ([]*model.ServiceRecord, error) {
	return nil, storage.NewInternalError("读取失败", errBackend)
}

func TestRegistry_BackendErrors(t *testing.T) {
	r := New(failingStorage{})
	ctx := context.Background()

	_, err := r.Register(ctx, &model.RegisterRequest{ServiceName: "inventory", ServiceURL: "http://svc"})
	require.Error(t, err)
	assert.Equal(t, storage.ErrInternal, storage.ErrorCode(err))
	assert.ErrorIs(t, err, errBackend)

	_, err = r.Stats(ctx)
	assert.ErrorIs(t, err, errBackend)
}
