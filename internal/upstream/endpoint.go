package upstream

import (
	"fmt"
	"strings"
)

// Endpoint 描述一个上游服务地址，Slug 为路径部分（可包含模板占位符）。
type Endpoint struct {
	Host string `json:"host" validate:"required,host_or_ip"`
	Port int    `json:"port" validate:"gte=1024,lte=65535"`
	Slug string `json:"slug"`
}

// URL 拼接完整地址，path 追加在 Slug 之后。
func (e Endpoint) URL(path string) string {
	slug := strings.TrimRight(e.Slug, "/")
	if slug != "" && !strings.HasPrefix(slug, "/") {
		slug = "/" + slug
	}
	return fmt.Sprintf("http://%s:%d%s%s", e.Host, e.Port, slug, path)
}
