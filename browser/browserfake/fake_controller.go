package browserfake

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-store-claimer/browser"
	"github.com/jrsteele09/go-store-claimer/credentials"
)

var ErrNoElement = errors.New("element never appeared")

// FakeController is a scripted browser.Controller. Selectors in Visible match
// immediately; OnClick lets a test change the page in reaction to a click.
type FakeController struct {
	mu sync.Mutex

	Visible  map[string]bool
	Captcha  bool
	Remote   string
	OnClick  func(f *FakeController, selector string)
	NavErr   error
	Visited  []string
	Clicks   []string
	Filled   map[string]string
	Injected []string
	Cookies  credentials.CookieSet
	Closed   int
}

var (
	_ browser.Controller = (*FakeController)(nil)
	_ browser.Opener     = (*FakeOpener)(nil)
)

func NewFakeController(visible ...string) *FakeController {
	f := &FakeController{Visible: map[string]bool{}, Filled: map[string]string{}}
	for _, v := range visible {
		f.Visible[v] = true
	}
	return f
}

// Show makes selectors match; Hide removes them.
func (f *FakeController) Show(selectors ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range selectors {
		f.Visible[s] = true
	}
}

func (f *FakeController) Hide(selectors ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range selectors {
		delete(f.Visible, s)
	}
}

func (f *FakeController) SetCaptcha(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Captcha = on
}

func (f *FakeController) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Visited = append(f.Visited, url)
	return f.NavErr
}

func (f *FakeController) WaitForElement(ctx context.Context, selector string) error {
	_, err := f.WaitForAny(ctx, selector)
	return err
}

func (f *FakeController) WaitForAny(_ context.Context, selectors ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range selectors {
		if f.Visible[s] || (s == browser.SelectorCaptchaFrame && f.Captcha) {
			return i, nil
		}
	}
	return -1, ErrNoElement
}

func (f *FakeController) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	if !f.Visible[selector] {
		f.mu.Unlock()
		return ErrNoElement
	}
	f.Clicks = append(f.Clicks, selector)
	hook := f.OnClick
	f.mu.Unlock()
	if hook != nil {
		hook(f, selector)
	}
	return nil
}

func (f *FakeController) Fill(_ context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Visible[selector] {
		return ErrNoElement
	}
	f.Filled[selector] = value
	return nil
}

func (f *FakeController) SubmitCredentials(_ context.Context, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Filled[browser.SelectorEmail] = email
	f.Filled[browser.SelectorPassword] = password
	return nil
}

func (f *FakeController) DetectCaptchaFrame(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Captcha, nil
}

func (f *FakeController) InjectCaptchaToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Injected = append(f.Injected, token)
	f.Captcha = false
	return nil
}

func (f *FakeController) SetCookies(cookies credentials.CookieSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cookies = cookies.Clone()
	return nil
}

func (f *FakeController) RemoteViewURL() string {
	return f.Remote
}

func (f *FakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed++
	return nil
}

// FakeOpener hands out the same controller on every Open.
type FakeOpener struct {
	Controller *FakeController
	Err        error
	Opened     int
}

func (o *FakeOpener) Open(context.Context) (browser.Controller, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	o.Opened++
	return o.Controller, nil
}
