package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变更，校验通过的新快照通过显式通道下发；
// 消费方决定如何应用（进程级配置不经任何全局单例传播）。
type Watcher struct {
	// Path 配置文件路径。
	Path string
	// Cooldown 两次重载之间的最小间隔，抑制编辑器连环写事件，默认 2s。
	Cooldown time.Duration
	// OnError 加载/校验失败时回调（可为 nil）；旧快照继续生效。
	OnError func(error)

	mu         sync.Mutex
	lastReload time.Time
}

// Start 开始监听，返回快照通道。通道缓冲为 1 且采用「新值挤掉旧
// 值」语义：消费方只需要最新快照。ctx 结束后通道关闭。
func (w *Watcher) Start(ctx context.Context) (<-chan AppConfig, error) {
	if w.Cooldown <= 0 {
		w.Cooldown = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.Path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	updates := make(chan AppConfig, 1)
	go w.loop(ctx, fsw, updates)
	return updates, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, updates chan AppConfig) {
	defer close(updates)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.handleChange(updates)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}

func (w *Watcher) handleChange(updates chan AppConfig) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.Cooldown {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.Path)
	if err != nil {
		if w.OnError != nil {
			w.OnError(err)
		}
		return
	}
	// 挤掉未被消费的旧快照
	select {
	case <-updates:
	default:
	}
	updates <- cfg
}
