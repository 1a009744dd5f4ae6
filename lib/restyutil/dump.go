// Package restyutil keeps a copy of the http exchanges a resty client makes.
package restyutil

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"autoquote-backend/lib/util/fsutil"

	"github.com/go-resty/resty/v2"
)

// Dump writes every exchange client completes into out, one file per
// exchange named <n>-<method>-<host>.txt. A nil out disables dumping.
func Dump(client *resty.Client, out fsutil.Output) {
	if out == nil {
		return
	}
	var counter atomic.Uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		host := res.Request.URL
		if parsed, err := url.Parse(res.Request.URL); err == nil {
			host = parsed.Host
		}
		name := fmt.Sprintf("%d-%s-%s.txt", counter.Add(1), res.Request.Method, host)
		out.Write(name, []byte(FormatExchange(res)))
		return nil
	})
}
