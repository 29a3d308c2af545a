package cget

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// sidecarSuffix names the companion metadata file FileSystemCache writes
// next to every cached body, e.g. "pkg/foo.tgz" gets
// "pkg/foo.tgz.header.json" alongside it.
const sidecarSuffix = ".header.json"

// Reserved sidecar keys, per spec.md §4.3. These are the only "cget-*"
// keys a sidecar file may carry; every other top-level key is a response
// header field.
const (
	sidecarKeyStamp   = "cget-stamp"
	sidecarKeyStatus  = "cget-status"
	sidecarKeyMessage = "cget-message"
	sidecarKeyTarget  = "cget-target"
)

// sidecar is the in-memory form of a "<path>.header.json" file. On disk it
// is a single flat JSON object mixing the four reserved "cget-*" keys with
// the response's header fields directly, e.g.:
//
//	{"cget-stamp": 1699999999000, "cget-status": 200, "Content-Type": ["text/plain"]}
//
// Target is only set for a redirect-only entry: one with no body of its
// own, recording that this cache key ultimately resolves to another
// location (see materializeRedirectHistory in transfer.go).
type sidecar struct {
	Stamp   int64
	Status  int
	Message string
	Target  string
	Headers http.Header
}

func (sc *sidecar) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(sc.Headers)+4)
	for k, v := range sc.Headers {
		m[k] = v
	}
	m[sidecarKeyStamp] = sc.Stamp
	m[sidecarKeyStatus] = sc.Status
	if sc.Message != "" {
		m[sidecarKeyMessage] = sc.Message
	}
	if sc.Target != "" {
		m[sidecarKeyTarget] = sc.Target
	}
	return json.Marshal(m)
}

func (sc *sidecar) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	if raw, ok := m[sidecarKeyStamp]; ok {
		_ = json.Unmarshal(raw, &sc.Stamp)
		delete(m, sidecarKeyStamp)
	}

	sc.Status = 200
	if raw, ok := m[sidecarKeyStatus]; ok {
		_ = json.Unmarshal(raw, &sc.Status)
		delete(m, sidecarKeyStatus)
	}

	sc.Message = "OK"
	if raw, ok := m[sidecarKeyMessage]; ok {
		_ = json.Unmarshal(raw, &sc.Message)
		delete(m, sidecarKeyMessage)
	}

	if raw, ok := m[sidecarKeyTarget]; ok {
		_ = json.Unmarshal(raw, &sc.Target)
		delete(m, sidecarKeyTarget)
	}

	if len(m) > 0 {
		sc.Headers = http.Header{}
		for k, raw := range m {
			var vals []string
			if err := json.Unmarshal(raw, &vals); err == nil {
				sc.Headers[k] = vals
			}
		}
	}
	return nil
}

func sidecarPath(bodyPath string) string {
	return bodyPath + sidecarSuffix
}

func readSidecar(path string) (*sidecar, error) {
	raw, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, errors.Wrapf(err, "cget: corrupt sidecar for %s", path)
	}
	return &sc, nil
}

func writeSidecar(path string, sc *sidecar) error {
	if sc.Stamp == 0 {
		sc.Stamp = time.Now().UTC().UnixMilli()
	}
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cget: marshaling sidecar")
	}
	if err := writeFileAtomic(sidecarPath(path), raw, 0644); err != nil {
		return errors.Wrapf(err, "cget: writing sidecar for %s", path)
	}
	return nil
}
