package dumpfmt

import (
	"fmt"
	"sort"

	"github.com/go-pdf/fpdf"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

// PDFRenderer produces an admin-facing operator report over the same
// Content a TextRenderer would dump, for the teacher's reporting role
// (direct dependency go-pdf/fpdf, repurposed here rather than for VM/node
// reports).
type PDFRenderer struct{}

// Render builds a ready-to-output PDF document.
func (PDFRenderer) Render(c Content) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Package Visibility Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Master switch enabled: %t", c.GloballyEnabled))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Force-queryable AppIds (%d)", len(c.ForceQueryable)))
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	for _, id := range c.ForceQueryable {
		pdf.Cell(0, 6, fmt.Sprintf("  %d", id))
		pdf.Ln(6)
	}

	renderPDFEdges(pdf, "Package-name / installer relations", c.PackageEdges)
	renderPDFEdges(pdf, "Component / provider relations", c.ComponentEdges)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Ln(4)
	pdf.Cell(0, 8, "Implicitly queryable (runtime grants)")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	implicitCallers := make([]appid.Uid, 0, len(c.ImplicitEdges))
	for caller := range c.ImplicitEdges {
		implicitCallers = append(implicitCallers, caller)
	}
	sort.Slice(implicitCallers, func(i, j int) bool { return implicitCallers[i] < implicitCallers[j] })
	for _, caller := range implicitCallers {
		line := caller.String() + " ->"
		for _, t := range c.ImplicitEdges[caller] {
			line += " " + t.String()
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}

	return pdf
}

func renderPDFEdges(pdf *fpdf.Fpdf, title string, edges map[appid.AppId][]appid.AppId) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Ln(4)
	pdf.Cell(0, 8, title)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	callers := make([]appid.AppId, 0, len(edges))
	for caller := range edges {
		callers = append(callers, caller)
	}
	sort.Slice(callers, func(i, j int) bool { return callers[i] < callers[j] })
	for _, caller := range callers {
		line := fmt.Sprintf("%d ->", caller)
		for _, t := range edges[caller] {
			line += fmt.Sprintf(" %d", t)
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
}
