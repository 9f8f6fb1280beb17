// render-report turns a markdown report exported from the API
// (GET /v1/assessments/{id}/report?format=markdown) into HTML or PDF.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/psychobrio/connect/internal/report"
)

func main() {
	inputPath := flag.String("input", "", "Path to the markdown report ('-' for stdin)")
	htmlPath := flag.String("html-output", "", "Optional path to write the standalone HTML document")
	pdfPath := flag.String("pdf-output", "", "Optional path to write the PDF (needs a local Chromium)")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("missing required -input")
	}
	if *htmlPath == "" && *pdfPath == "" {
		log.Fatal("nothing to do: pass -html-output and/or -pdf-output")
	}

	markdown, err := readInput(*inputPath)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}

	if *htmlPath != "" {
		doc, err := report.BuildReportHTML(markdown)
		if err != nil {
			log.Fatalf("build html: %v", err)
		}
		if err := os.WriteFile(*htmlPath, []byte(doc), 0o644); err != nil {
			log.Fatalf("write html: %v", err)
		}
		fmt.Printf("wrote %s\n", *htmlPath)
	}

	if *pdfPath != "" {
		renderer := report.NewChromiumPDFRenderer()
		pdf, err := renderer.Render(context.Background(), markdown)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
		if err := os.WriteFile(*pdfPath, pdf, 0o644); err != nil {
			log.Fatalf("write pdf: %v", err)
		}
		fmt.Printf("wrote %s\n", *pdfPath)
	}
}

func readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
