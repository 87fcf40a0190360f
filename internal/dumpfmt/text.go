package dumpfmt

import (
	"fmt"
	"io"
	"sort"

	"github.com/rcourtman/pkgvisibility/internal/appid"
)

// TextRenderer writes Content as the plain-text diagnostic dump spec.md §6
// describes. Formatting is ours to choose; every contractual piece of
// content above must appear.
type TextRenderer struct{}

func (TextRenderer) Render(w io.Writer, c Content) error {
	if _, err := fmt.Fprintf(w, "package_query_filtering_enabled: %t\n", c.GloballyEnabled); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "forceQueryable (%d):\n", len(c.ForceQueryable)); err != nil {
		return err
	}
	for _, id := range c.ForceQueryable {
		if _, err := fmt.Fprintf(w, "  %d\n", id); err != nil {
			return err
		}
	}

	if err := renderAppEdges(w, "queriesViaPackage", c.PackageEdges); err != nil {
		return err
	}
	if err := renderAppEdges(w, "queriesViaComponent", c.ComponentEdges); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w, "implicitlyQueryable:"); err != nil {
		return err
	}
	callers := make([]appid.Uid, 0, len(c.ImplicitEdges))
	for caller := range c.ImplicitEdges {
		callers = append(callers, caller)
	}
	sort.Slice(callers, func(i, j int) bool { return callers[i] < callers[j] })
	for _, caller := range callers {
		if _, err := fmt.Fprintf(w, "  %s ->", caller); err != nil {
			return err
		}
		for _, t := range c.ImplicitEdges[caller] {
			if _, err := fmt.Fprintf(w, " %s", t); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	return nil
}

func renderAppEdges(w io.Writer, label string, edges map[appid.AppId][]appid.AppId) error {
	if _, err := fmt.Fprintf(w, "%s:\n", label); err != nil {
		return err
	}
	callers := make([]appid.AppId, 0, len(edges))
	for caller := range edges {
		callers = append(callers, caller)
	}
	sort.Slice(callers, func(i, j int) bool { return callers[i] < callers[j] })
	for _, caller := range callers {
		if _, err := fmt.Fprintf(w, "  %d ->", caller); err != nil {
			return err
		}
		for _, t := range edges[caller] {
			if _, err := fmt.Fprintf(w, " %d", t); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
