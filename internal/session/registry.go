package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRegistryClosed はShutdown後にGetが呼び出された場合のエラー。
var ErrRegistryClosed = errors.New("session registry is shut down")

// Factory はブラウザセッションIDに対応するControllerを生成する。
// 生成されたControllerはRegistryがStartする。
type Factory func(browserSessionID string) (*Controller, error)

// Gauge は保持中のコントローラ数を記録するインターフェース。
type Gauge interface {
	SetActiveControllers(n int)
}

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTimeout   time.Duration // 最終アクセスからこの時間を超えたコントローラを破棄する
	SweepInterval time.Duration // 破棄対象の確認間隔
}

// DefaultRegistryConfig はデフォルトの設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// entry はコントローラと最終アクセス時刻を保持する。
type entry struct {
	ctrl       *Controller
	lastAccess time.Time
}

// Registry はブラウザセッションIDごとのControllerを管理する。
// アプリケーション起動時に1つだけ生成し、Shutdownで全コントローラを停止する。
// 破棄されたコントローラの認証セッションはセッションストレージに残るため、
// 次のアクセスで新しいコントローラが既存セッションを復元する。
type Registry struct {
	factory Factory
	config  RegistryConfig
	logger  *slog.Logger
	gauge   Gauge

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRegistry は新しいRegistryを生成し、バックグラウンドで破棄ループを開始する。
func NewRegistry(factory Factory, config RegistryConfig, logger *slog.Logger, gauge Gauge) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultRegistryConfig().SweepInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRegistryConfig().IdleTimeout
	}

	r := &Registry{
		factory: factory,
		config:  config,
		logger:  logger,
		gauge:   gauge,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go r.sweepLoop()

	return r
}

// Get はブラウザセッションIDに対応するControllerを返す。
// 存在しない場合はFactoryで生成して開始する。
func (r *Registry) Get(browserSessionID string) (*Controller, error) {
	if browserSessionID == "" {
		return nil, fmt.Errorf("browser session ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if e, ok := r.entries[browserSessionID]; ok {
		e.lastAccess = time.Now()
		return e.ctrl, nil
	}

	ctrl, err := r.factory(browserSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	ctrl.Start()

	r.entries[browserSessionID] = &entry{
		ctrl:       ctrl,
		lastAccess: time.Now(),
	}
	r.reportLocked()

	return ctrl, nil
}

// Remove は指定IDのコントローラを停止して破棄する。
func (r *Registry) Remove(browserSessionID string) {
	r.mu.Lock()
	e, ok := r.entries[browserSessionID]
	if ok {
		delete(r.entries, browserSessionID)
		r.reportLocked()
	}
	r.mu.Unlock()

	if ok {
		e.ctrl.Close()
	}
}

// Len は保持中のコントローラ数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown は破棄ループを停止し、全コントローラを停止する。
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.done

		r.mu.Lock()
		r.closed = true
		entries := r.entries
		r.entries = make(map[string]*entry)
		r.reportLocked()
		r.mu.Unlock()

		for _, e := range entries {
			e.ctrl.Close()
		}
		r.logger.Info("session registry stopped", slog.Int("closed_controllers", len(entries)))
	})
}

// sweepLoop はバックグラウンドでアイドル状態のコントローラを定期的に破棄する。
func (r *Registry) sweepLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// sweep は最終アクセス時刻がIdleTimeoutを超えたコントローラを停止して破棄する。
func (r *Registry) sweep(now time.Time) int {
	var idle []*Controller

	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(e.lastAccess) > r.config.IdleTimeout {
			idle = append(idle, e.ctrl)
			delete(r.entries, id)
		}
	}
	if len(idle) > 0 {
		r.reportLocked()
	}
	r.mu.Unlock()

	for _, ctrl := range idle {
		ctrl.Close()
	}
	if len(idle) > 0 {
		r.logger.Info("idle controllers evicted", slog.Int("count", len(idle)))
	}
	return len(idle)
}

func (r *Registry) reportLocked() {
	if r.gauge != nil {
		r.gauge.SetActiveControllers(len(r.entries))
	}
}
