package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Group 按注册顺序启动组件，按相反顺序停止
type Group struct {
	mu      sync.Mutex
	comps   []Component
	names   map[string]struct{}
	started int // 已成功启动的组件数
}

// NewGroup 创建组件组
func NewGroup() *Group {
	return &Group{names: make(map[string]struct{})}
}

// Add 注册组件（名称重复返回错误）
func (g *Group) Add(c Component) error {
	if c == nil {
		return errors.New("component is nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.names[c.Name()]; ok {
		return fmt.Errorf("component %q already registered", c.Name())
	}
	g.names[c.Name()] = struct{}{}
	g.comps = append(g.comps, c)
	return nil
}

// Start 依次启动；任一失败则停止已启动的组件并返回错误
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := g.started; i < len(g.comps); i++ {
		if err := g.comps[i].Start(ctx); err != nil {
			g.stopLocked(ctx)
			return fmt.Errorf("start %s: %w", g.comps[i].Name(), err)
		}
		g.started = i + 1
	}
	return nil
}

// Stop 反向停止所有已启动组件，收集全部错误
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopLocked(ctx)
}

func (g *Group) stopLocked(ctx context.Context) error {
	var errs []error
	for i := g.started - 1; i >= 0; i-- {
		if err := g.comps[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", g.comps[i].Name(), err))
		}
	}
	g.started = 0
	return errors.Join(errs...)
}

// Names 返回注册顺序的组件名
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.comps))
	for _, c := range g.comps {
		names = append(names, c.Name())
	}
	return names
}
