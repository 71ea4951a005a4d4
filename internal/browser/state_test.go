package browser

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestReadStorageStateMissing(t *testing.T) {
	state, err := ReadStorageState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || state != nil {
		t.Errorf("got %v, %v; want nil, nil", state, err)
	}
}

func TestStorageStateRoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "spare-room.storageState.json")
	in := &StorageState{
		Cookies: []Cookie{{Name: "sid", Value: "abc", Domain: ".spareroom.co.uk", Path: "/", Expires: -1, HTTPOnly: true, Secure: true, SameSite: "Lax"}},
		Origins: []Origin{{Origin: "https://www.spareroom.co.uk", LocalStorage: []NameValue{{Name: "consent", Value: "yes"}}}},
	}
	if err := WriteStorageState(path, in); err != nil {
		t.Fatalf("WriteStorageState: %v", err)
	}

	out, err := ReadStorageState(path)
	if err != nil {
		t.Fatalf("ReadStorageState: %v", err)
	}
	if len(out.Cookies) != 1 || out.Cookies[0] != in.Cookies[0] {
		t.Errorf("cookies = %+v", out.Cookies)
	}
	if len(out.Origins) != 1 || out.Origins[0].LocalStorage[0].Value != "yes" {
		t.Errorf("origins = %+v", out.Origins)
	}
}

func TestReadStorageStateRecordedElsewhere(t *testing.T) {
	// keys as written by other automation tools, including unknown fields
	raw := `{"cookies":[{"name":"a","value":"1","domain":"x.test","path":"/","expires":1735689600.5,"httpOnly":false,"secure":true,"sameSite":"None","partitionKey":null}],"origins":[]}`
	var state StorageState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		t.Fatal(err)
	}

	params := cookieParams(state.Cookies)
	if len(params) != 1 {
		t.Fatalf("params = %d", len(params))
	}
	p := params[0]
	if p.SameSite != network.CookieSameSiteNone || !p.Secure {
		t.Errorf("param = %+v", p)
	}
	if p.Expires == nil {
		t.Fatal("expected expiry")
	}
	if got := time.Time(*p.Expires).Unix(); got != 1735689600 {
		t.Errorf("expires = %d", got)
	}
}

func TestCookieParamsSessionCookie(t *testing.T) {
	params := cookieParams([]Cookie{{Name: "s", Value: "v", Expires: -1}})
	if params[0].Expires != nil {
		t.Error("session cookie should have no expiry")
	}
	if params[0].SameSite != "" {
		t.Errorf("SameSite = %q, want empty", params[0].SameSite)
	}
}

func TestCookiesFromNetwork(t *testing.T) {
	got := cookiesFromNetwork([]*network.Cookie{
		{Name: "a", Value: "1", Domain: "x.test", Path: "/", Expires: 99, Session: true, SameSite: network.CookieSameSiteStrict},
		{Name: "b", Value: "2", Domain: "x.test", Path: "/", Expires: 1700000000},
	})
	if got[0].Expires != -1 || got[0].SameSite != "Strict" {
		t.Errorf("session cookie = %+v", got[0])
	}
	if got[1].Expires != 1700000000 {
		t.Errorf("persistent cookie = %+v", got[1])
	}
}

func TestLocalStorageScript(t *testing.T) {
	script, err := localStorageScript([]NameValue{{Name: `k"1`, Value: "</script>"}})
	if err != nil {
		t.Fatal(err)
	}
	// markup is escaped so the payload cannot close a script context
	if !strings.Contains(script, `[["k\"1","\u003c/script\u003e"]]`) {
		t.Errorf("script = %s", script)
	}
}
