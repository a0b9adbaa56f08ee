package config

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// KeysOf 按 mapstructure tag 列出结构体的全部叶子 key
//
// ",squash" 字段的 key 提升到父级；map 字段没有固定的 key，不会列出
// （需要时用 EnvSource.AddBinding 单独绑定）。
func KeysOf(v any) []string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	var keys []string
	collectKeys(t, "", &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, squash := fieldKey(f)
		if name == "-" {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch {
		case ft.Kind() == reflect.Struct && ft != timeType:
			if squash {
				collectKeys(ft, prefix, keys)
			} else {
				collectKeys(ft, joinKey(prefix, name), keys)
			}
		case ft.Kind() == reflect.Map:
		default:
			*keys = append(*keys, joinKey(prefix, name))
		}
	}
}

// fieldKey 没有 tag 时与 mapstructure 一致，使用小写字段名
func fieldKey(f reflect.StructField) (name string, squash bool) {
	tag := f.Tag.Get("mapstructure")
	name, opts, _ := strings.Cut(tag, ",")
	for _, opt := range strings.Split(opts, ",") {
		if opt == "squash" {
			squash = true
		}
	}
	if name == "" && !squash {
		name = strings.ToLower(f.Name)
	}
	return name, squash
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// EnvKey 配置 key 对应的环境变量名
//
//	EnvKey("MESH", "http.jwt.skip_paths") == "MESH_HTTP_JWT_SKIP_PATHS"
func EnvKey(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}
