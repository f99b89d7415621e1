package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"marketcrawl/pkg/config"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
)

// RodFactory opens Chrome sessions on a persistent profile. Every session
// launches its own browser process with the next viewport, so the profile
// (and the operator's login) survives while the window fingerprint changes.
type RodFactory struct {
	cfg       config.BrowserConfig
	selectors Selectors
	viewports *ViewportCycle
	logger    logger.Logger
}

// NewRodFactory creates a factory from browser configuration
func NewRodFactory(cfg config.BrowserConfig, log logger.Logger) *RodFactory {
	if log == nil {
		log = logger.GetLogger()
	}
	vp := cfg.Viewport
	return &RodFactory{
		cfg:       cfg,
		selectors: DefaultSelectors().WithOverrides(cfg.Selectors),
		viewports: NewViewportCycle(vp.MinWidth, vp.MaxWidth, vp.MinHeight, vp.MaxHeight,
			rand.New(rand.NewSource(time.Now().UnixNano()))),
		logger: log,
	}
}

// ListingURL returns the listing page of a target
func (f *RodFactory) ListingURL(targetID string) string {
	return strings.ReplaceAll(f.cfg.ListingURL, "{id}", url.QueryEscape(targetID))
}

// NewSession launches (or connects to) Chrome, opens a stealth page sized to
// the next viewport and loads the marketplace root
func (f *RodFactory) NewSession(ctx context.Context) (Session, error) {
	viewport := f.viewports.Next()

	b, l, err := f.connect(viewport, f.cfg.Headless)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeTransientNetwork, err, "failed to start browser")
	}

	s := &rodSession{
		cfg:       f.cfg,
		selectors: f.selectors,
		browser:   b,
		launcher:  l,
		viewport:  viewport,
		logger:    f.logger.WithField("viewport", fmt.Sprintf("%dx%d", viewport.Width, viewport.Height)),
	}

	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("Browser session opened")
	return s, nil
}

func (f *RodFactory) connect(viewport Viewport, headless bool) (*rod.Browser, *launcher.Launcher, error) {
	var (
		controlURL string
		l          *launcher.Launcher
	)

	if f.cfg.RemoteURL != "" {
		controlURL = f.cfg.RemoteURL
	} else {
		l = launcher.New().
			Headless(headless).
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", viewport.Width, viewport.Height))
		if f.cfg.UserDataDir != "" {
			l = l.UserDataDir(f.cfg.UserDataDir)
		}
		if f.cfg.BinPath != "" {
			l = l.Bin(f.cfg.BinPath)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("launch: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return b, l, nil
}

// OpenForLogin opens a visible window on the persistent profile at the
// marketplace root and keeps it open until ctx ends or wait elapses
func (f *RodFactory) OpenForLogin(ctx context.Context, wait time.Duration) error {
	b, l, err := f.connect(f.viewports.Next(), false)
	if err != nil {
		return err
	}
	defer func() {
		b.Close()
		if l != nil {
			l.Kill()
		}
	}()

	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	if err := page.Context(ctx).Navigate(f.cfg.RootURL); err != nil {
		return fmt.Errorf("navigate %s: %w", f.cfg.RootURL, err)
	}

	f.logger.InfoWithFields("Login window opened", map[string]interface{}{
		"profile": f.cfg.UserDataDir,
		"wait":    wait,
	})

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

type rodSession struct {
	cfg       config.BrowserConfig
	selectors Selectors
	browser   *rod.Browser
	launcher  *launcher.Launcher
	page      *rod.Page
	viewport  Viewport
	logger    logger.Logger
}

func (s *rodSession) open(ctx context.Context) error {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeTransientNetwork, err, "failed to create page")
	}
	s.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.viewport.Width,
		Height:            s.viewport.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to set viewport")
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return errs.Wrap(errs.ErrorTypeTransientNetwork, err, "failed to enable network events")
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Context(tctx).Navigate(s.cfg.RootURL); err != nil {
		return s.fail(ctx, "navigate root", err)
	}
	if err := page.Context(tctx).WaitLoad(); err != nil {
		s.logger.WithError(err).Warn("Root page did not finish loading")
	}
	return nil
}

func (s *rodSession) Navigate(ctx context.Context, target string) (*Response, error) {
	return s.capture(ctx, "navigate", func(p *rod.Page) error {
		return p.Navigate(target)
	})
}

func (s *rodSession) ApplyFilter(ctx context.Context, min, max float64) (*Response, error) {
	sel := s.selectors
	return s.capture(ctx, "apply filter", func(p *rod.Page) error {
		toggle, err := p.Element(sel.PartitionToggle)
		if err != nil {
			return fmt.Errorf("range control: %w", err)
		}
		if err := toggle.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}

		custom, err := p.ElementR(sel.CustomOption, "^"+regexp.QuoteMeta(sel.CustomOptionText)+"$")
		if err != nil {
			return fmt.Errorf("custom range option: %w", err)
		}
		if err := custom.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return err
		}

		if err := fill(p, sel.MinInput, models.FormatBound(min)); err != nil {
			return fmt.Errorf("min input: %w", err)
		}
		if err := fill(p, sel.MaxInput, models.FormatBound(max)); err != nil {
			return fmt.Errorf("max input: %w", err)
		}

		confirm, err := p.ElementR(sel.ConfirmButton, regexp.QuoteMeta(sel.ConfirmText))
		if err != nil {
			return fmt.Errorf("confirm button: %w", err)
		}
		return confirm.Click(proto.InputMouseButtonLeft, 1)
	})
}

func fill(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (s *rodSession) AdvancePage(ctx context.Context) (*Response, error) {
	sel := s.selectors

	tctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	has, next, err := s.page.Context(tctx).Has(sel.NextPage)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, "find next page", err)
	}
	if !has {
		return nil, ErrExhausted
	}
	class, err := next.Attribute("class")
	if err != nil {
		return nil, s.fail(ctx, "read next page state", err)
	}
	if class != nil && strings.Contains(*class, sel.NextDisabledClass) {
		return nil, ErrExhausted
	}

	return s.capture(ctx, "advance page", func(p *rod.Page) error {
		el, err := p.Element(sel.NextPage)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (s *rodSession) PartitionAvailable(ctx context.Context) bool {
	has, _, err := s.page.Context(ctx).Has(s.selectors.PartitionToggle)
	return err == nil && has
}

func (s *rodSession) LoginRequired(ctx context.Context) (bool, error) {
	res, err := s.page.Context(ctx).Eval(
		`(text) => !!document.body && document.body.innerText.includes(text)`, s.cfg.LoginIndicator)
	if err != nil {
		return false, s.fail(ctx, "check login", err)
	}
	return res.Value.Bool(), nil
}

func (s *rodSession) CurrentFingerprint(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`(key) => window.localStorage.getItem(key)`, s.cfg.FingerprintKey)
	if err != nil {
		return "", s.fail(ctx, "read fingerprint", err)
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (s *rodSession) ClearState(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => { window.localStorage.clear(); window.sessionStorage.clear(); }`)
	if err != nil {
		return s.fail(ctx, "clear storage", err)
	}
	return nil
}

func (s *rodSession) Reload(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	page := s.page.Context(tctx)
	if err := page.Reload(); err != nil {
		return s.fail(ctx, "reload", err)
	}
	if err := page.WaitLoad(); err != nil {
		return s.fail(ctx, "wait load", err)
	}
	return nil
}

func (s *rodSession) Close() error {
	if s.page != nil {
		_ = s.page.Close()
	}
	var err error
	if s.launcher != nil {
		err = s.browser.Close()
		s.launcher.Kill()
	}
	s.logger.Debug("Browser session closed")
	return err
}

// capture runs action and waits for the listing POST it triggers
func (s *rodSession) capture(ctx context.Context, op string, action func(p *rod.Page) error) (*Response, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	page := s.page.Context(tctx)

	var (
		tracked  = make(map[proto.NetworkRequestID]bool)
		matched  proto.NetworkRequestID
		status   int
		respURL  string
		failText string
	)

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request.Method == http.MethodPost && strings.Contains(e.Request.URL, s.cfg.ResponseMatch) {
				tracked[e.RequestID] = true
			}
		},
		func(e *proto.NetworkResponseReceived) {
			if tracked[e.RequestID] {
				status = e.Response.Status
				respURL = e.Response.URL
			}
		},
		func(e *proto.NetworkLoadingFinished) bool {
			if tracked[e.RequestID] && status != 0 {
				matched = e.RequestID
				return true
			}
			return false
		},
		func(e *proto.NetworkLoadingFailed) bool {
			if tracked[e.RequestID] {
				failText = e.ErrorText
				return true
			}
			return false
		},
	)

	if err := action(page); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	wait()

	if failText != "" {
		return nil, errs.New(errs.ErrorTypeTransientNetwork, op+": "+failText)
	}
	if matched == "" {
		return nil, s.fail(ctx, op, fmt.Errorf("no %s response: %w", s.cfg.ResponseMatch, tctx.Err()))
	}

	body, err := proto.NetworkGetResponseBody{RequestID: matched}.Call(page)
	if err != nil {
		return nil, s.fail(ctx, op+" body", err)
	}
	data := []byte(body.Body)
	if body.Base64Encoded {
		if data, err = base64.StdEncoding.DecodeString(body.Body); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformedResponse, err, "failed to decode response body")
		}
	}

	return &Response{Status: status, URL: respURL, Body: data}, nil
}

// fail classifies a browser failure. A cancelled caller context is returned
// as is; everything else is treated as a transport problem.
func (s *rodSession) fail(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return errs.Wrap(errs.ErrorTypeTransientNetwork, err, op)
}
