package report

import (
	"strings"
	"testing"
)

func TestBuildReportHTML(t *testing.T) {
	md := "# Bilan psychomoteur\n\n## Patient\n\n- **Nom**: Ana Moreau\n"
	html, err := BuildReportHTML(md)
	if err != nil {
		t.Fatalf("BuildReportHTML: %v", err)
	}
	for _, want := range []string{
		"<meta charset='utf-8'>",
		"lang='fr'",
		"<h1>Bilan psychomoteur</h1>",
		"<h2>Patient</h2>",
		"<strong>Nom</strong>",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
}

func TestBuildReportHTMLEscapesRawHTML(t *testing.T) {
	html, err := BuildReportHTML("texte <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("BuildReportHTML: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatalf("raw html passed through:\n%s", html)
	}
}
