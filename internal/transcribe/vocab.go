package transcribe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// TextPolicy selects how token pieces become text.
type TextPolicy string

const (
	// PolicyBPE maps byte-level BPE markers (Ġ, Ċ) back to whitespace.
	PolicyBPE TextPolicy = "bpe"
	// PolicyPlain treats pieces as plain text and strips control markup.
	PolicyPlain TextPolicy = "plain"
	// PolicySentencePiece maps the "▁" word marker to a space.
	PolicySentencePiece TextPolicy = "sentencepiece"
)

// ParseTextPolicy validates a policy name. The empty string means bpe.
func ParseTextPolicy(s string) (TextPolicy, error) {
	switch TextPolicy(s) {
	case "", PolicyBPE:
		return PolicyBPE, nil
	case PolicyPlain:
		return PolicyPlain, nil
	case PolicySentencePiece:
		return PolicySentencePiece, nil
	default:
		return "", fmt.Errorf("transcribe: unknown text policy %q (supported: bpe, plain, sentencepiece)", s)
	}
}

// Vocabulary maps token ids to their pieces. It is immutable once loaded and
// safe for concurrent reads.
type Vocabulary struct {
	pieces map[int64]string
}

// LoadVocabulary reads a vocabulary JSON file; see ParseVocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: reading vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary accepts a flat {"piece": id} object (Hugging Face
// vocab.json) or its inverse {"id": "piece"} (SentencePiece exports).
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var byPiece map[string]int64
	if err := json.Unmarshal(data, &byPiece); err == nil {
		pieces := make(map[int64]string, len(byPiece))
		for piece, id := range byPiece {
			if id < 0 {
				return nil, fmt.Errorf("transcribe: invalid token ID %d for piece %q", id, piece)
			}
			pieces[id] = piece
		}
		return &Vocabulary{pieces: pieces}, nil
	}

	var byID map[string]string
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("transcribe: parsing vocabulary JSON: want {\"piece\": id} or {\"id\": \"piece\"}: %w", err)
	}
	pieces := make(map[int64]string, len(byID))
	for k, piece := range byID {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("transcribe: invalid token ID %q", k)
		}
		pieces[id] = piece
	}
	return &Vocabulary{pieces: pieces}, nil
}

// NewVocabulary builds a vocabulary from an id -> piece map.
func NewVocabulary(pieces map[int64]string) *Vocabulary {
	cp := make(map[int64]string, len(pieces))
	for id, p := range pieces {
		cp[id] = p
	}
	return &Vocabulary{pieces: cp}
}

// Len returns the number of known pieces.
func (v *Vocabulary) Len() int { return len(v.pieces) }

// Piece returns the piece for id and whether it exists.
func (v *Vocabulary) Piece(id int64) (string, bool) {
	p, ok := v.pieces[id]
	return p, ok
}

// Decode reconstructs text from token ids. Ids at or above threshold are
// special tokens and skipped; unknown ids render as "[id]".
func (v *Vocabulary) Decode(ids []int64, threshold int64) string {
	text := v.join(ids, threshold)
	text = strings.ReplaceAll(text, "Ġ", " ")
	text = strings.ReplaceAll(text, "Ċ", "\n")
	return strings.TrimSpace(text)
}

// Text renders ids using the given policy.
func (v *Vocabulary) Text(ids []int64, threshold int64, policy TextPolicy) string {
	switch policy {
	case PolicyPlain:
		return CleanMarkup(v.join(ids, threshold))
	case PolicySentencePiece:
		return CleanMarkup(strings.ReplaceAll(v.join(ids, threshold), "▁", " "))
	default:
		return v.Decode(ids, threshold)
	}
}

func (v *Vocabulary) join(ids []int64, threshold int64) string {
	var b strings.Builder
	for _, id := range ids {
		if id >= threshold {
			continue
		}
		if p, ok := v.pieces[id]; ok {
			b.WriteString(p)
			continue
		}
		slog.Debug("vocabulary miss", "id", id)
		b.WriteString("[" + strconv.FormatInt(id, 10) + "]")
	}
	return b.String()
}

var (
	markupRe     = regexp.MustCompile(`<\|[^|>]*\|>|</?s>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanMarkup strips <|...|>, <s> and </s> control markers and collapses
// whitespace runs to a single space.
func CleanMarkup(text string) string {
	text = markupRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
