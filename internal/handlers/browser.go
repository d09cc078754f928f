package handlers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
)

// BrowserBackend abstracts browser automation behind the action set spec
// §4.2 names (browser_launch/navigate/snapshot/click/type/screenshot/
// close). DESIGN.md records why this host does not ship a concrete
// backend (the teacher's go-rod dependency was dropped — no component in
// SPEC_FULL exercises in-process Chrome automation from inside a
// no-network sandbox). A deployment wanting this action family configures
// its own BrowserBackend implementation.
type BrowserBackend interface {
	Launch(ctx context.Context, sessionID, profile string) error
	Navigate(ctx context.Context, sessionID, url string) error
	Snapshot(ctx context.Context, sessionID string) (string, error)
	Click(ctx context.Context, sessionID, selector string) error
	Type(ctx context.Context, sessionID, selector, text string) error
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
	Close(ctx context.Context, sessionID string) error
}

var errNoBrowserBackend = fmt.Errorf("browser: no backend configured for this deployment")

func (d Deps) browserLaunch(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	if err := d.Browser.Launch(ctx, dctx.SessionID, str(payload, "profile")); err != nil {
		return nil, fmt.Errorf("browser_launch: %w", err)
	}
	return map[string]any{}, nil
}

func (d Deps) browserNavigate(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	if err := d.Browser.Navigate(ctx, dctx.SessionID, str(payload, "url")); err != nil {
		return nil, fmt.Errorf("browser_navigate: %w", err)
	}
	return map[string]any{}, nil
}

func (d Deps) browserSnapshot(ctx context.Context, dctx dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	snapshot, err := d.Browser.Snapshot(ctx, dctx.SessionID)
	if err != nil {
		return nil, fmt.Errorf("browser_snapshot: %w", err)
	}
	return map[string]any{"snapshot": snapshot}, nil
}

func (d Deps) browserClick(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	if err := d.Browser.Click(ctx, dctx.SessionID, str(payload, "selector")); err != nil {
		return nil, fmt.Errorf("browser_click: %w", err)
	}
	return map[string]any{}, nil
}

func (d Deps) browserType(ctx context.Context, dctx dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	if err := d.Browser.Type(ctx, dctx.SessionID, str(payload, "selector"), str(payload, "text")); err != nil {
		return nil, fmt.Errorf("browser_type: %w", err)
	}
	return map[string]any{}, nil
}

func (d Deps) browserScreenshot(ctx context.Context, dctx dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	data, err := d.Browser.Screenshot(ctx, dctx.SessionID)
	if err != nil {
		return nil, fmt.Errorf("browser_screenshot: %w", err)
	}
	return map[string]any{"imageBase64": base64.StdEncoding.EncodeToString(data)}, nil
}

func (d Deps) browserClose(ctx context.Context, dctx dispatcher.Context, _ map[string]any) (map[string]any, error) {
	if d.Browser == nil {
		return nil, errNoBrowserBackend
	}
	if err := d.Browser.Close(ctx, dctx.SessionID); err != nil {
		return nil, fmt.Errorf("browser_close: %w", err)
	}
	return map[string]any{}, nil
}
