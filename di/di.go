// Package di 基于 samber/do 组装 meshd：配置、日志、网格与对外接口
package di

import "github.com/samber/do/v2"

// Injector 类型别名
type Injector = do.Injector

// RootScope 类型别名
type RootScope = do.RootScope

// New 创建新的根注入器
var New = do.New

// 泛型函数不能导出为 var，需要通过 do 包调用：
//
//	injector := di.New()
//	do.Provide(injector, di.ProvideMesh())
//	m := do.MustInvoke[*mesh.Mesh](injector)
