package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// StorageState is the saved login of a site: cookies plus local storage per
// origin. The layout matches the common browser-automation state file, so
// files recorded by other tools load too.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type Origin struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ReadStorageState returns nil, nil when the file does not exist.
func ReadStorageState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}

	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse storage state %s: %w", path, err)
	}
	return &state, nil
}

func WriteStorageState(path string, state *StorageState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage state: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func cookieParams(cookies []Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * 1e9)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func cookiesFromNetwork(in []*network.Cookie) []Cookie {
	out := make([]Cookie, 0, len(in))
	for _, c := range in {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// localStorageScript builds a script that writes items into localStorage.
func localStorageScript(items []NameValue) (string, error) {
	pairs := make([][2]string, 0, len(items))
	for _, it := range items {
		pairs = append(pairs, [2]string{it.Name, it.Value})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function(items){for (const [k, v] of items) { localStorage.setItem(k, v); } return items.length;})(%s)`, data), nil
}

func (b *Browser) applyStorageState(ctx context.Context, state *StorageState) error {
	if len(state.Cookies) > 0 {
		params := cookieParams(state.Cookies)
		err := b.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}))
		if err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		script, err := localStorageScript(origin.LocalStorage)
		if err != nil {
			return fmt.Errorf("failed to encode local storage for %s: %w", origin.Origin, err)
		}
		var n int
		if err := b.Run(ctx, chromedp.Navigate(origin.Origin), chromedp.Evaluate(script, &n)); err != nil {
			return fmt.Errorf("failed to restore local storage for %s: %w", origin.Origin, err)
		}
		b.logger.Debug("restored local storage", "origin", origin.Origin, "items", n)
	}
	return nil
}

// SaveStorageState writes every cookie of the browser and the local storage
// of the current page's origin to path.
func (b *Browser) SaveStorageState(ctx context.Context, path string) error {
	var netCookies []*network.Cookie
	var origin string
	var entries [][2]string

	err := b.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			netCookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(`location.origin`, &origin),
		chromedp.Evaluate(`Object.entries(localStorage)`, &entries),
	)
	if err != nil {
		return fmt.Errorf("failed to capture storage state: %w", err)
	}

	state := &StorageState{Cookies: cookiesFromNetwork(netCookies)}
	if len(entries) > 0 {
		o := Origin{Origin: origin}
		for _, e := range entries {
			o.LocalStorage = append(o.LocalStorage, NameValue{Name: e[0], Value: e[1]})
		}
		state.Origins = append(state.Origins, o)
	}

	if err := WriteStorageState(path, state); err != nil {
		return err
	}
	b.logger.Info("storage state saved", "path", path, "cookies", len(state.Cookies))
	return nil
}
