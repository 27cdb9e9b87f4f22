package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Property keys of a field's .properties file.
const (
	PropField          = "field"
	PropTermProcessor  = "termprocessor"
	PropRefPrefix      = "refprefix"
	PropTerms          = "terms"
	PropDocuments      = "documents"
	PropOccurrences    = "occurrences"
	PropPostings       = "postings"
	PropMaxCount       = "maxcount"
	PropMaxDocSize     = "maxdocsize"
	PropFrequencyCode  = "frequencycoding"
	PropPointerCoding  = "pointercoding"
	PropCountCoding    = "countcoding"
	PropPositionCoding = "positioncoding"
	PropHasCounts      = "hascounts"
	PropHasPositions   = "haspositions"
	PropSkipQuantum    = "skipquantum"
	PropSkipHeight     = "skipheight"
	PropIndexBits      = "indexbits"
	PropIndexCRC       = "indexcrc32"
	PropSizes          = "sizes"
	PropFormat         = "format"
)

const formatVersion = "1"

// Properties is the parsed metadata of one field index.
type Properties map[string]string

func (p Properties) Int(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing property %q", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("property %q: %w", key, err)
	}
	return n, nil
}

func (p Properties) Bool(key string) bool {
	b, _ := strconv.ParseBool(p[key])
	return b
}

// write renders the properties in the given key order, one key=value per
// line.
func (p Properties) write(w io.Writer, keys []string) error {
	bw := bufio.NewWriter(w)
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s=%s\n", k, escape(v)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadProperties parses a key=value file. Blank lines and lines starting with
// '#' are ignored.
func ReadProperties(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	props := Properties{}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=value", path, line)
		}
		props[strings.TrimSpace(k)] = unescape(strings.TrimSpace(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

var propEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
var propUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n")

func escape(v string) string   { return propEscaper.Replace(v) }
func unescape(v string) string { return propUnescaper.Replace(v) }
