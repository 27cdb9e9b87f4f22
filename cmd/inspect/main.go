// Command inspect prints a written field index: its properties, its
// dictionary with document frequencies, and optionally the postings of
// selected terms.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

func main() {
	dir := flag.String("dir", "index", "index directory")
	field := flag.String("field", "", "field name")
	terms := flag.String("terms", "", "comma-separated terms whose postings are printed")
	limit := flag.Int("limit", 50, "maximum number of dictionary entries printed, 0 for all")
	flag.Parse()

	if *field == "" {
		fmt.Fprintln(os.Stderr, "inspect: -field is required")
		os.Exit(apperrors.ExitConfig)
	}
	r, err := index.OpenField(*dir, *field)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(apperrors.ExitResource)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	if err := dump(w, r, *limit, splitTerms(*terms)); err != nil {
		w.Flush()
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(apperrors.ExitInternal)
	}
}

func dump(w *bufio.Writer, r *index.FieldReader, limit int, terms []string) error {
	props := r.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Fprintf(w, "# %s\n", r.Name())
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, props[k])
	}

	fmt.Fprintf(w, "\n# dictionary (%d terms)\n", len(r.Terms()))
	for i, term := range r.Terms() {
		if limit > 0 && i >= limit {
			fmt.Fprintf(w, "... %d more\n", len(r.Terms())-limit)
			break
		}
		l, err := r.PostingsAt(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\tdf=%d\tocc=%d\n", term, l.Frequency(), l.Occurrences())
	}

	for _, term := range terms {
		l, err := r.Postings(term)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n# postings of %q\n", term)
		if l == nil {
			fmt.Fprintln(w, "(not in dictionary)")
			continue
		}
		for {
			ok, err := l.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Fprintf(w, "%d\tcount=%d", l.Doc(), l.Count())
			if pos := l.Positions(); len(pos) > 0 {
				fmt.Fprintf(w, "\tpositions=%v", pos)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

func splitTerms(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
