package browser

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/rs/zerolog"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// RodOpener launches a local Chromium per Open call.
type RodOpener struct {
	cfg    config.BrowserConfig
	logger zerolog.Logger
}

var _ Opener = (*RodOpener)(nil)

func NewRodOpener(cfg config.BrowserConfig, logger zerolog.Logger) *RodOpener {
	return &RodOpener{cfg: cfg, logger: logger}
}

// Open launches the browser and a stealth page. Anything started before a failure is
// torn down again.
func (o *RodOpener) Open(ctx context.Context) (Controller, error) {
	// Leakless deadlocks on Windows: https://github.com/go-rod/rod/issues/853
	l := launcher.New().
		Context(ctx).
		Leakless(runtime.GOOS != "windows").
		Headless(o.cfg.GetHeadless())

	if dir := o.cfg.GetBrowserUserDataDir(); dir != "" {
		l = l.UserDataDir(dir)
	}
	if bin := o.cfg.GetBrowserBin(); bin != "" {
		l = l.Bin(bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	remote := o.cfg.GetRemoteDebuggingHost()
	if remote != "" {
		port, err := remotePort(remote)
		if err != nil {
			return nil, err
		}
		l = l.RemoteDebuggingPort(port).Set("remote-debugging-address", "0.0.0.0")
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("[RodOpener.Open] launch browser: %w", err)
	}

	r := &Rod{launcher: l, remote: remote, timeout: o.cfg.GetBrowserTimeout(), log: o.logger}
	r.browser = rod.New().ControlURL(controlURL)
	if err := r.browser.Connect(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("[RodOpener.Open] connect: %w", err)
	}
	r.page, err = stealth.Page(r.browser)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("[RodOpener.Open] stealth page: %w", err)
	}
	if err := r.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		o.logger.Debug().Err(err).Msg("could not override user agent")
	}
	o.logger.Debug().Str("control", controlURL).Bool("headless", o.cfg.GetHeadless()).Msg("browser launched")
	return r, nil
}

// Rod is a Controller over one go-rod page.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	remote   string
	timeout  time.Duration
	log      zerolog.Logger
}

var _ Controller = (*Rod)(nil)

func (r *Rod) with(ctx context.Context, fn func(p *rod.Page) error) error {
	p := r.page.Context(ctx).Timeout(r.timeout)
	defer p.CancelTimeout()
	return fn(p)
}

func (r *Rod) Navigate(ctx context.Context, target string) error {
	return r.with(ctx, func(p *rod.Page) error {
		if err := p.Navigate(target); err != nil {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
		if err := p.WaitLoad(); err != nil {
			return fmt.Errorf("load %s: %w", target, err)
		}
		return nil
	})
}

func (r *Rod) WaitForElement(ctx context.Context, selector string) error {
	return r.with(ctx, func(p *rod.Page) error {
		_, err := p.Element(selector)
		return err
	})
}

func (r *Rod) WaitForAny(ctx context.Context, selectors ...string) (int, error) {
	matched := -1
	err := r.with(ctx, func(p *rod.Page) error {
		race := p.Race()
		for i, sel := range selectors {
			i := i
			race = race.Element(sel).Handle(func(*rod.Element) error {
				matched = i
				return nil
			})
		}
		_, err := race.Do()
		return err
	})
	if err != nil {
		return -1, err
	}
	return matched, nil
}

func (r *Rod) Click(ctx context.Context, selector string) error {
	return r.with(ctx, func(p *rod.Page) error {
		el, err := p.Element(selector)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	})
}

func (r *Rod) Fill(ctx context.Context, selector, value string) error {
	return r.with(ctx, func(p *rod.Page) error {
		el, err := p.Element(selector)
		if err != nil {
			return err
		}
		if err := el.SelectAllText(); err != nil {
			return err
		}
		return el.Input(value)
	})
}

// SubmitCredentials fills the two-step login form.
func (r *Rod) SubmitCredentials(ctx context.Context, email, password string) error {
	if err := r.Fill(ctx, SelectorEmail, email); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if err := r.Click(ctx, SelectorContinue); err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	if err := r.Fill(ctx, SelectorPassword, password); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	return r.Click(ctx, SelectorSignIn)
}

func (r *Rod) DetectCaptchaFrame(ctx context.Context) (bool, error) {
	has, _, err := r.page.Context(ctx).Has(SelectorCaptchaFrame)
	return has, err
}

func (r *Rod) InjectCaptchaToken(ctx context.Context, token string) error {
	return r.with(ctx, func(p *rod.Page) error {
		_, err := p.Eval(`(token) => {
			for (const name of ['h-captcha-response', 'g-recaptcha-response']) {
				document.querySelectorAll('textarea[name="' + name + '"]').forEach(t => { t.value = token; });
			}
			window.dispatchEvent(new CustomEvent('captcha-solved', { detail: token }));
			return true;
		}`, token)
		return err
	})
}

func (r *Rod) SetCookies(cookies credentials.CookieSet) error {
	return r.browser.SetCookies(cookieParams(cookies))
}

func (r *Rod) RemoteViewURL() string {
	if r.remote == "" || r.page == nil {
		return ""
	}
	return RemoteViewURL(r.remote, string(r.page.TargetID))
}

// Close releases the page, the browser and the launched process. It is safe to call on
// a partly opened Rod.
func (r *Rod) Close() error {
	var firstErr error
	if r.page != nil {
		if err := r.page.Close(); err != nil {
			firstErr = err
		}
	}
	if r.browser != nil {
		if err := r.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.launcher != nil {
		r.launcher.Cleanup()
	}
	r.log.Debug().Msg("browser closed")
	return firstErr
}

// RemoteViewURL builds the DevTools frontend link for one target.
func RemoteViewURL(hostPort, targetID string) string {
	ws := hostPort + "/devtools/page/" + targetID
	return "http://" + hostPort + "/devtools/inspector.html?ws=" + url.QueryEscape(ws)
}

func remotePort(hostPort string) (int, error) {
	_, p, err := net.SplitHostPort(hostPort)
	if err != nil {
		return 0, fmt.Errorf("remote debugging host %q: %w", hostPort, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("remote debugging host %q: bad port", hostPort)
	}
	return port, nil
}

func cookieParams(set credentials.CookieSet) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(set))
	for _, c := range set {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		switch strings.ToLower(c.SameSite) {
		case "lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "none":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		out = append(out, p)
	}
	return out
}
