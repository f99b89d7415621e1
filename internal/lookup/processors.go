package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GoodsClient fetches the metadata document of one item
type GoodsClient interface {
	FetchGood(ctx context.Context, id string) (json.RawMessage, error)
}

// RecordWriter appends records to the shared output
type RecordWriter interface {
	Write(records []json.RawMessage) (int, error)
}

// GoodsProcessor fetches one item per job and appends its document
type GoodsProcessor struct {
	Client GoodsClient
	Output RecordWriter
}

func (p *GoodsProcessor) Kind() string { return "good" }

func (p *GoodsProcessor) Process(ctx context.Context, id string) (int, error) {
	doc, err := p.Client.FetchGood(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Output.Write([]json.RawMessage{doc})
}

// SearchClient lists the items matching a search term
type SearchClient interface {
	SearchIDs(ctx context.Context, term string, pageSize int) ([]json.RawMessage, error)
}

// DocumentStore keeps one JSON document per name
type DocumentStore interface {
	SaveJSON(name string, v any) error
}

// SearchProcessor saves every match of a term into one document named
// "<term>_ids"
type SearchProcessor struct {
	Client   SearchClient
	Store    DocumentStore
	PageSize int
}

func (p *SearchProcessor) Kind() string { return "search" }

func (p *SearchProcessor) Process(ctx context.Context, term string) (int, error) {
	items, err := p.Client.SearchIDs(ctx, term, p.PageSize)
	if err != nil {
		return 0, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	if err := p.Store.SaveJSON(DocumentName(term), items); err != nil {
		return 0, fmt.Errorf("failed to save ids for %q: %w", term, err)
	}
	return len(items), nil
}

// DocumentName is the file stem used for a search term
func DocumentName(term string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", string(rune(0)), "")
	return replacer.Replace(term) + "_ids"
}

// CollectIDs extracts the "id" field of every item in the documents. Items
// without a usable id are skipped. Order is preserved and duplicates dropped.
func CollectIDs(docs [][]json.RawMessage) []string {
	seen := make(map[string]bool)
	var ids []string

	for _, items := range docs {
		for _, item := range items {
			var probe struct {
				ID json.RawMessage `json:"id"`
			}
			if err := json.Unmarshal(item, &probe); err != nil || len(probe.ID) == 0 {
				continue
			}
			id := strings.Trim(string(probe.ID), `"`)
			if id == "" || id == "null" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
