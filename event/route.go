package event

import (
	"sort"
	"strings"
)

// Router 按事件名匹配 Kafka topic
// 配置文件里用 ":" 作分隔符（避免 viper 把 "." 解析成嵌套路径），加载时统一转换为 "."
type Router struct {
	entries []routeEntry
}

type routeEntry struct {
	pattern  string
	topic    string
	prefix   string
	wildcard bool
	priority int // 越小越优先：精确 > 长前缀通配 > 短前缀通配 > "*"
}

// NewRouter 创建路由
func NewRouter(routes map[string]string) *Router {
	r := &Router{entries: make([]routeEntry, 0, len(routes))}
	for pattern, topic := range routes {
		if topic == "" {
			continue
		}
		p := strings.ReplaceAll(pattern, ":", ".")
		e := routeEntry{pattern: p, topic: topic, wildcard: strings.HasSuffix(p, "*")}
		switch {
		case !e.wildcard:
			e.priority = 0
		case p == "*":
			e.priority = 1000
		default:
			e.prefix = strings.TrimSuffix(p, "*")
			e.priority = 100 - len(e.prefix)
		}
		r.entries = append(r.entries, e)
	}
	sort.Slice(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority < r.entries[j].priority
		}
		return r.entries[i].pattern < r.entries[j].pattern
	})
	return r
}

// Match 返回事件对应的 topic
func (r *Router) Match(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, e := range r.entries {
		switch {
		case !e.wildcard && e.pattern == name:
			return e.topic, true
		case e.wildcard && strings.HasPrefix(name, e.prefix):
			return e.topic, true
		}
	}
	return "", false
}

// Len 路由条数
func (r *Router) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
