package signal

import (
	"strconv"
	"strings"
)

// Query 描述一次信号拉取的资产与时间范围，时间为毫秒时间戳。
type Query struct {
	Asset     string
	Interval  string
	StartTime int64
	EndTime   int64
}

// ResolvePath 替换路径模板中的 {asset} {interval} {start_time} {end_time}。
func ResolvePath(tmpl string, q Query) string {
	r := strings.NewReplacer(
		"{asset}", q.Asset,
		"{interval}", q.Interval,
		"{start_time}", strconv.FormatInt(q.StartTime, 10),
		"{end_time}", strconv.FormatInt(q.EndTime, 10),
	)
	return r.Replace(tmpl)
}
