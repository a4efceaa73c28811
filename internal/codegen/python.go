package codegen

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// Python emits a script for the synchronous Playwright API.
type Python struct{}

var _ LanguageBackend = Python{}

func (Python) Name() string { return "python" }

func (Python) Header() string {
	return `from playwright.sync_api import Playwright, sync_playwright, expect


def run(playwright: Playwright) -> None:
    browser = playwright.chromium.launch(headless=False)
    context = browser.new_context()
    page = context.new_page()
`
}

func (Python) Footer() string {
	return `
    # ---------------------
    context.close()
    browser.close()


with sync_playwright() as playwright:
    run(playwright)
`
}

func (p Python) Action(aic schemas.ActionInContext) (string, error) {
	a := aic.Action
	page := aic.Frame.PageAlias
	if page == "" {
		page = "page"
	}
	subject := page
	if !aic.Frame.IsMainFrame {
		subject = fmt.Sprintf("%s.frame(url=%s)", page, pyQuote(aic.Frame.URL))
	}
	locator := func() string { return fmt.Sprintf("%s.locator(%s)", subject, pyQuote(a.Selector)) }

	var stmt string
	switch a.Name {
	case schemas.ActionOpenPage:
		if a.URL == "" || a.URL == "about:blank" || a.URL == "chrome://newtab/" {
			return "", nil
		}
		stmt = fmt.Sprintf("%s.goto(%s)", page, pyQuote(a.URL))
	case schemas.ActionClosePage:
		stmt = fmt.Sprintf("%s.close()", page)
	case schemas.ActionNavigate:
		stmt = fmt.Sprintf("%s.goto(%s)", subject, pyQuote(a.URL))
	case schemas.ActionClick:
		method := "click"
		if a.ClickCount == 2 {
			method = "dblclick"
		}
		stmt = fmt.Sprintf("%s.%s(%s)", locator(), method, p.clickOptions(a))
	case schemas.ActionFill:
		stmt = fmt.Sprintf("%s.fill(%s)", locator(), pyQuote(a.Text))
	case schemas.ActionPress:
		stmt = fmt.Sprintf("%s.press(%s)", locator(), pyQuote(shortcut(a.Key, a.Modifiers)))
	case schemas.ActionCheck:
		stmt = fmt.Sprintf("%s.check()", locator())
	case schemas.ActionUncheck:
		stmt = fmt.Sprintf("%s.uncheck()", locator())
	case schemas.ActionSelect:
		stmt = fmt.Sprintf("%s.select_option(%s)", locator(), pyStringOrList(a.Options))
	case schemas.ActionSetInputFiles:
		stmt = fmt.Sprintf("%s.set_input_files(%s)", locator(), pyStringOrList(a.Files))
	default:
		return "", fmt.Errorf("unsupported action %q", a.Name)
	}

	if nav, ok := hasSignal(a, schemas.SignalNavigation); ok && nav.URL != "" && a.Name != schemas.ActionNavigate {
		stmt += fmt.Sprintf("\n%s.wait_for_url(%s)", page, pyQuote(nav.URL))
	}
	return indent(stmt, "    "), nil
}

func (Python) clickOptions(a schemas.Action) string {
	var opts []string
	if a.Button != "" && a.Button != "left" {
		opts = append(opts, "button="+pyQuote(a.Button))
	}
	if mods := modifierNames(a.Modifiers); len(mods) > 0 {
		opts = append(opts, "modifiers="+pyList(mods))
	}
	if a.ClickCount > 2 {
		opts = append(opts, fmt.Sprintf("click_count=%d", a.ClickCount))
	}
	return strings.Join(opts, ", ")
}

var pyEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func pyQuote(s string) string { return `"` + pyEscaper.Replace(s) + `"` }

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = pyQuote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func pyStringOrList(items []string) string {
	if len(items) == 1 {
		return pyQuote(items[0])
	}
	return pyList(items)
}
