package codegen

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// JavaScript emits Playwright Test source.
type JavaScript struct{}

var _ LanguageBackend = JavaScript{}

func (JavaScript) Name() string { return "javascript" }

func (JavaScript) Header() string {
	return "import { test, expect } from '@playwright/test';\n\ntest('test', async ({ page }) => {\n"
}

func (JavaScript) Footer() string { return "});\n" }

func (j JavaScript) Action(aic schemas.ActionInContext) (string, error) {
	a := aic.Action
	page := aic.Frame.PageAlias
	if page == "" {
		page = "page"
	}
	subject := page
	if !aic.Frame.IsMainFrame {
		subject = fmt.Sprintf("%s.frame({ url: %s })", page, jsQuote(aic.Frame.URL))
	}
	locator := func() string { return fmt.Sprintf("%s.locator(%s)", subject, jsQuote(a.Selector)) }

	var stmt string
	switch a.Name {
	case schemas.ActionOpenPage:
		if a.URL == "" || a.URL == "about:blank" || a.URL == "chrome://newtab/" {
			return "", nil
		}
		stmt = fmt.Sprintf("await %s.goto(%s);", page, jsQuote(a.URL))
	case schemas.ActionClosePage:
		stmt = fmt.Sprintf("await %s.close();", page)
	case schemas.ActionNavigate:
		stmt = fmt.Sprintf("await %s.goto(%s);", subject, jsQuote(a.URL))
	case schemas.ActionClick:
		method := "click"
		if a.ClickCount == 2 {
			method = "dblclick"
		}
		stmt = fmt.Sprintf("await %s.%s(%s);", locator(), method, j.clickOptions(a))
	case schemas.ActionFill:
		stmt = fmt.Sprintf("await %s.fill(%s);", locator(), jsQuote(a.Text))
	case schemas.ActionPress:
		stmt = fmt.Sprintf("await %s.press(%s);", locator(), jsQuote(shortcut(a.Key, a.Modifiers)))
	case schemas.ActionCheck:
		stmt = fmt.Sprintf("await %s.check();", locator())
	case schemas.ActionUncheck:
		stmt = fmt.Sprintf("await %s.uncheck();", locator())
	case schemas.ActionSelect:
		stmt = fmt.Sprintf("await %s.selectOption(%s);", locator(), jsStringOrArray(a.Options))
	case schemas.ActionSetInputFiles:
		stmt = fmt.Sprintf("await %s.setInputFiles(%s);", locator(), jsStringOrArray(a.Files))
	default:
		return "", fmt.Errorf("unsupported action %q", a.Name)
	}

	if nav, ok := hasSignal(a, schemas.SignalNavigation); ok && nav.URL != "" && a.Name != schemas.ActionNavigate {
		stmt += fmt.Sprintf("\nawait %s.waitForURL(%s);", page, jsQuote(nav.URL))
	}
	return indent(stmt, "  "), nil
}

func (JavaScript) clickOptions(a schemas.Action) string {
	var opts []string
	if a.Button != "" && a.Button != "left" {
		opts = append(opts, "button: "+jsQuote(a.Button))
	}
	if mods := modifierNames(a.Modifiers); len(mods) > 0 {
		opts = append(opts, "modifiers: "+jsArray(mods))
	}
	if a.ClickCount > 2 {
		opts = append(opts, fmt.Sprintf("clickCount: %d", a.ClickCount))
	}
	if len(opts) == 0 {
		return ""
	}
	return "{ " + strings.Join(opts, ", ") + " }"
}

var jsEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`, "\u2028", `\u2028`, "\u2029", `\u2029`)

func jsQuote(s string) string { return "'" + jsEscaper.Replace(s) + "'" }

func jsArray(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = jsQuote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func jsStringOrArray(items []string) string {
	if len(items) == 1 {
		return jsQuote(items[0])
	}
	return jsArray(items)
}
