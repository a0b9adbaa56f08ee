// Package flagx 用结构体 tag 声明 cobra 命令的参数（类似 gin 的 ShouldBind）
//
//	type registerFlags struct {
//	    Service string        `flag:"service,s" usage:"服务名" required:"true"`
//	    Port    int           `flag:"port" default:"8080"`
//	    Timeout time.Duration `flag:"timeout" default:"5s"`
//	    Addr    string        `flag:"http-addr" config:"http.addr"`
//	}
//
// 支持的 tag：flag（名称与短名）、usage、default、required、config（对应的配置 key）
package flagx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var durationType = reflect.TypeOf(time.Duration(0))

type fieldSpec struct {
	index    int
	name     string
	short    string
	usage    string
	def      string
	required bool
	config   string
}

func specs(target interface{}) (reflect.Value, []fieldSpec, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("target must be a pointer to struct")
	}
	v = v.Elem()
	t := v.Type()

	var out []fieldSpec
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("flag")
		if tag == "" || !f.IsExported() {
			continue
		}
		name, short, _ := strings.Cut(tag, ",")
		out = append(out, fieldSpec{
			index:    i,
			name:     name,
			short:    short,
			usage:    f.Tag.Get("usage"),
			def:      f.Tag.Get("default"),
			required: f.Tag.Get("required") == "true",
			config:   f.Tag.Get("config"),
		})
	}
	return v, out, nil
}

// BindFlags 按字段声明注册 flag
func BindFlags(cmd *cobra.Command, target interface{}) error {
	v, fields, err := specs(target)
	if err != nil {
		return err
	}
	for _, spec := range fields {
		if err := registerFlag(cmd, v.Type().Field(spec.index).Type, spec); err != nil {
			return fmt.Errorf("flag %s: %w", spec.name, err)
		}
		if spec.required {
			if err := cmd.MarkFlagRequired(spec.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func registerFlag(cmd *cobra.Command, typ reflect.Type, spec fieldSpec) error {
	fs := cmd.Flags()
	switch {
	case typ == durationType:
		def, err := parseDefault(spec.def, time.ParseDuration)
		if err != nil {
			return err
		}
		fs.DurationP(spec.name, spec.short, def, spec.usage)
	case typ.Kind() == reflect.String:
		fs.StringP(spec.name, spec.short, spec.def, spec.usage)
	case typ.Kind() == reflect.Int:
		def, err := parseDefault(spec.def, strconv.Atoi)
		if err != nil {
			return err
		}
		fs.IntP(spec.name, spec.short, def, spec.usage)
	case typ.Kind() == reflect.Bool:
		def, err := parseDefault(spec.def, strconv.ParseBool)
		if err != nil {
			return err
		}
		fs.BoolP(spec.name, spec.short, def, spec.usage)
	case typ.Kind() == reflect.Slice && typ.Elem().Kind() == reflect.String:
		var def []string
		if spec.def != "" {
			def = strings.Split(spec.def, ",")
		}
		fs.StringSliceP(spec.name, spec.short, def, spec.usage)
	case typ.Kind() == reflect.Map && typ.Key().Kind() == reflect.String && typ.Elem().Kind() == reflect.String:
		fs.StringToStringP(spec.name, spec.short, nil, spec.usage)
	default:
		return fmt.Errorf("unsupported field type: %s", typ)
	}
	return nil
}

func parseDefault[T any](s string, parse func(string) (T, error)) (T, error) {
	var zero T
	if s == "" {
		return zero, nil
	}
	v, err := parse(s)
	if err != nil {
		return zero, fmt.Errorf("invalid default %q: %w", s, err)
	}
	return v, nil
}

// ParseFlags 把 flag 的值写回结构体
func ParseFlags(cmd *cobra.Command, target interface{}) error {
	v, fields, err := specs(target)
	if err != nil {
		return err
	}
	fs := cmd.Flags()
	for _, spec := range fields {
		field := v.Field(spec.index)
		var value interface{}
		switch {
		case field.Type() == durationType:
			value, err = fs.GetDuration(spec.name)
		case field.Kind() == reflect.String:
			value, err = fs.GetString(spec.name)
		case field.Kind() == reflect.Int:
			value, err = fs.GetInt(spec.name)
		case field.Kind() == reflect.Bool:
			value, err = fs.GetBool(spec.name)
		case field.Kind() == reflect.Slice:
			value, err = fs.GetStringSlice(spec.name)
		case field.Kind() == reflect.Map:
			value, err = fs.GetStringToString(spec.name)
		default:
			err = fmt.Errorf("unsupported field type: %s", field.Type())
		}
		if err != nil {
			return fmt.Errorf("parse flag %s: %w", spec.name, err)
		}
		field.Set(reflect.ValueOf(value).Convert(field.Type()))
	}
	return nil
}

// ConfigKeys flag 名 -> 配置 key（只包含声明了 config tag 的字段）
func ConfigKeys(target interface{}) map[string]string {
	_, fields, err := specs(target)
	if err != nil {
		return nil
	}
	keys := make(map[string]string)
	for _, spec := range fields {
		if spec.config != "" {
			keys[spec.name] = spec.config
		}
	}
	return keys
}
