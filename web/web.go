// Package web 内嵌聊天页面静态资源
package web

import "embed"

//go:embed index.html
var FS embed.FS
