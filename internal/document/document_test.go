package document

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

func TestDecode(t *testing.T) {
	doc, err := Decode([]byte(`{"id":10,"subject":"http://subject/","fields":{"subject":["subject","field","value"]},"triples":{"indexed":3}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.ID != 10 || len(doc.Terms("subject")) != 3 || doc.Triples.Indexed != 3 {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.Terms("object") != nil {
		t.Errorf("absent field should have no terms")
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		`{"id":1,`,
		`{"id":1,"fields":{}}`,
		`{"id":1,"subject":"s","fields":{"object":["a",""]}}`,
	}
	for _, in := range inputs {
		if _, err := Decode([]byte(in)); !errors.Is(err, apperrors.ErrMalformedDocument) {
			t.Errorf("Decode(%s): expected ErrMalformedDocument, got %v", in, err)
		}
	}
}

func TestJSONLSourceContinuesAfterMalformedLine(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"subject":"a","fields":{"f":["x"]}}`,
		`not json`,
		``,
		`{"id":2,"subject":"b","fields":{"f":["y"]}}`,
	}, "\n")
	src := NewJSONLSource(strings.NewReader(input))
	ctx := context.Background()

	var ids []int64
	var failures int
	for {
		doc, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if errors.Is(err, apperrors.ErrMalformedDocument) {
			failures++
			continue
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		ids = append(ids, doc.ID)
	}
	if failures != 1 {
		t.Errorf("expected 1 failure, got %d", failures)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v", ids)
	}
}
