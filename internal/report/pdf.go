package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// reportCSS is the print stylesheet for rendered reports. A4 layout, serif
// body text, the look practitioners expect from a signed clinical document.
const reportCSS = `
body{font-family:Georgia,"Times New Roman",serif;color:#1c1917;line-height:1.5;font-size:11pt;}
h1{font-size:18pt;border-bottom:2px solid #1c1917;padding-bottom:0.3rem;}
h2{font-size:14pt;margin-top:1.4rem;border-bottom:1px solid #a8a29e;padding-bottom:0.2rem;}
h3{font-size:12pt;margin-top:1rem;color:#44403c;}
ul{padding-left:1.2rem;}
blockquote{color:#78350f;border-left:3px solid #fcd34d;margin:1rem 0;padding:0.2rem 0.8rem;font-size:10pt;}
strong{color:#1c1917;}
@media print{ @page{size:A4;margin:14mm;} h2{break-after:avoid;} }
`

type ChromiumPDFRenderer struct {
	chromePath string
}

func NewChromiumPDFRenderer() *ChromiumPDFRenderer {
	return &ChromiumPDFRenderer{chromePath: detectChromePath()}
}

// Render converts a markdown report into a paginated PDF using headless
// Chromium. The caller owns the context deadline beyond the 30s ceiling here.
func (r *ChromiumPDFRenderer) Render(ctx context.Context, markdown string) ([]byte, error) {
	htmlDoc, err := BuildReportHTML(markdown)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> / <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.55).
				WithMarginBottom(0.75).
				WithMarginLeft(0.55).
				WithMarginRight(0.55).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

// BuildReportHTML converts report markdown into a standalone HTML document
// with the print stylesheet inlined.
func BuildReportHTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html lang='fr'><head><meta charset='utf-8'><title>Bilan psychomoteur</title>" +
		"<style>" + reportCSS + "</style></head><body>" +
		content.String() +
		"</body></html>", nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
