// Package search maintains the per-message keyword index. Each message body
// is tokenized into a document record plus one posting per token; postings
// are keyed with a reverse-padded message index so a forward scan yields
// matches newest first. Hard deletes remove the document and every posting so
// purged content cannot leak through queries.
package search

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store"
	"github.com/open-chat-labs/open-chat-sub009/pkg/store/keys"

	"github.com/cockroachdb/pebble"
)

type Index struct {
	db *store.DB
}

func Open(db *store.DB) *Index {
	return &Index{db: db}
}

// document is the stored form of one indexed message.
type document struct {
	Sender     string            `json:"sender"`
	EventIndex models.EventIndex `json:"event_index"`
	Tokens     []string          `json:"tokens"`
}

// Tokenize lowercases and splits on any non-alphanumeric rune, deduplicating
// the result. Query and document text go through the same function.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Add indexes a message body in batch.
func (i *Index) Add(batch *pebble.Batch, msgIdx models.MessageIndex, eventIdx models.EventIndex, sender, content string) error {
	doc := document{Sender: sender, EventIndex: eventIdx, Tokens: Tokenize(content)}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := batch.Set([]byte(keys.GenSearchDocKey(uint32(msgIdx))), data, nil); err != nil {
		return err
	}
	for _, tok := range doc.Tokens {
		if err := batch.Set([]byte(keys.GenSearchPostingKey(tok, uint32(msgIdx))), data, nil); err != nil {
			return err
		}
	}
	return nil
}

// Update reindexes a message after an edit: stale postings out, new ones in.
func (i *Index) Update(batch *pebble.Batch, msgIdx models.MessageIndex, eventIdx models.EventIndex, sender, content string) error {
	if err := i.Remove(batch, msgIdx); err != nil {
		return err
	}
	return i.Add(batch, msgIdx, eventIdx, sender, content)
}

// Remove drops a message from the index. Mandatory on hard delete.
func (i *Index) Remove(batch *pebble.Batch, msgIdx models.MessageIndex) error {
	raw, err := i.db.Get(keys.GenSearchDocKey(uint32(msgIdx)))
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	for _, tok := range doc.Tokens {
		if err := batch.Delete([]byte(keys.GenSearchPostingKey(tok, uint32(msgIdx))), nil); err != nil {
			return err
		}
	}
	return batch.Delete([]byte(keys.GenSearchDocKey(uint32(msgIdx))), nil)
}

// Search walks matches newest first. All query tokens must match; an empty
// query matches every indexed message (the degenerate "list visible
// messages" case). An empty sender set matches all senders. Matches whose
// event index is below minVisible are withheld. fn returns false to stop.
func (i *Index) Search(query string, senders []string, minVisible models.EventIndex, fn func(models.MessageIndex) bool) error {
	tokens := Tokenize(query)
	senderSet := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		senderSet[s] = struct{}{}
	}

	match := func(key string, value []byte, msgIdx uint32) bool {
		var doc document
		if err := json.Unmarshal(value, &doc); err != nil {
			return true
		}
		if doc.EventIndex < minVisible {
			return true
		}
		if len(senderSet) > 0 {
			if _, ok := senderSet[doc.Sender]; !ok {
				return true
			}
		}
		for _, tok := range tokens[1:] {
			if !contains(doc.Tokens, tok) {
				return true
			}
		}
		return fn(models.MessageIndex(msgIdx))
	}

	if len(tokens) == 0 {
		// doc keys are reverse-padded, so this is already newest first
		return i.db.IterPrefix("srd:", func(key string, value []byte) bool {
			idx, err := keys.ParseRevIdx(strings.TrimPrefix(key, "srd:"))
			if err != nil {
				return true
			}
			return match(key, value, idx)
		})
	}
	return i.db.IterPrefix(keys.GenSearchTokenPrefix(tokens[0]), func(key string, value []byte) bool {
		tok, idx, err := keys.ParseSearchPostingKey(key)
		if err != nil || tok != tokens[0] {
			return true
		}
		return match(key, value, idx)
	})
}

func contains(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}
