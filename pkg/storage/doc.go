// Package storage writes scraped data to disk.
//
// Sink is the append-only JSONL output used by the scrape orchestrator and
// the goods lookup. Each batch is compacted, written and synced under one
// lock, so concurrent writers never interleave partial lines.
//
// Manager keeps one JSON document per name in a directory, written through a
// temporary file and an atomic rename. The id search uses it for its
// per-term result files.
//
// Usage:
//
//	sink, err := storage.OpenSink("scraped_data.jsonl")
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	n, err := sink.Write(listing.Records)
package storage
