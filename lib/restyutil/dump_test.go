package restyutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mu    sync.Mutex
	names []string
	files map[string]string
}

func (m *memoryOutput) Write(name string, contents []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string]string{}
	}
	m.names = append(m.names, name)
	m.files[name] = string(contents)
}

func TestDump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	out := &memoryOutput{}
	client := resty.New()
	Dump(client, out)

	_, err := client.R().SetHeader("Accept", "application/json").Get(srv.URL + "/ip")
	require.NoError(t, err)
	_, err = client.R().SetBody(`{"plate":"AB123CD"}`).Post(srv.URL + "/echo")
	require.NoError(t, err)

	host := strings.TrimPrefix(srv.URL, "http://")
	require.Equal(t, []string{"1-GET-" + host + ".txt", "2-POST-" + host + ".txt"}, out.names)

	get := out.files[out.names[0]]
	require.Contains(t, get, "GET "+srv.URL+"/ip")
	require.Contains(t, get, "Accept: application/json")
	require.Contains(t, get, "200 ")
	require.Contains(t, get, `{"ip":"203.0.113.7"}`)

	require.Contains(t, out.files[out.names[1]], `{"plate":"AB123CD"}`)
}

func TestDumpDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := resty.New()
	Dump(client, nil)
	res, err := client.R().Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, "ok", res.String())
}

func TestFormatHeadersSorted(t *testing.T) {
	headers := http.Header{}
	headers.Add("X-B", "2")
	headers.Add("Accept", "text/plain")
	headers.Add("X-B", "3")
	require.Equal(t, "Accept: text/plain\nX-B: 2\nX-B: 3", formatHeaders(headers))
}
