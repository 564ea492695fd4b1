package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aletheia-kb/aletheia/pkg/document"
)

// Chunk splits doc's sections into a flat, ordered list of Chunks under
// cfg's token budget. Empty sections are skipped; total_chunks is
// backfilled once every section has been processed.
func Chunk(doc *document.Document, cfg Config) []Chunk {
	cfg.setDefaults()

	var chunks []Chunk
	for _, section := range doc.Sections {
		chunks = append(chunks, chunkSection(doc, section, cfg)...)
	}

	total := len(chunks)
	now := time.Now()
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = total
		chunks[i].CreatedAt = now
		chunks[i].ID = chunkID(doc.Path, i)
	}

	return chunks
}

// chunkSection implements the per-section algorithm: split the body into
// blocks on blank-line boundaries, accumulate blocks into a running chunk
// under the token budget, seed the next chunk with an overlap suffix of
// the previous one, and prefix every emitted chunk with the section
// heading.
func chunkSection(doc *document.Document, section document.Section, cfg Config) []Chunk {
	body := strings.TrimSpace(section.Body)
	if body == "" {
		return nil
	}

	blocks := splitBlocks(body)
	if len(blocks) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder

	emit := func() {
		text := strings.TrimSpace(current.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Text:           prefixHeading(section.Heading, text),
			Source:         doc.Path,
			SectionHeading: section.Heading,
			Type:           doc.Type,
			Tags:           doc.Tags,
		})
	}

	for _, block := range blocks {
		blockTokens := estimateTokens(block)

		// A single block that alone exceeds the budget is emitted on its
		// own rather than split, since fenced code and list items must
		// stay atomic.
		if blockTokens > cfg.MaxTokens {
			emit()
			current.Reset()
			current.WriteString(block)
			emit()
			current.Reset()
			continue
		}

		if current.Len() > 0 && estimateTokens(current.String())+blockTokens > cfg.MaxTokens {
			emit()
			overlap := overlapSuffix(current.String(), cfg.Overlap)
			current.Reset()
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString("\n\n")
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
	}
	emit()

	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

// splitBlocks splits body on blank-line boundaries, then re-merges any
// pieces that fall inside a fenced code block so the fence is never
// broken. List items (consecutive lines starting with a bullet or
// numbered marker) are likewise kept as a single block.
func splitBlocks(body string) []string {
	raw := strings.Split(body, "\n\n")

	var blocks []string
	var pending strings.Builder
	inFence := false

	flushPending := func() {
		if pending.Len() == 0 {
			return
		}
		blocks = append(blocks, strings.TrimRight(pending.String(), "\n"))
		pending.Reset()
	}

	for _, piece := range raw {
		fenceCount := strings.Count(piece, "```")

		if inFence {
			pending.WriteString("\n\n")
			pending.WriteString(piece)
			if fenceCount%2 == 1 {
				inFence = false
				flushPending()
			}
			continue
		}

		if fenceCount%2 == 1 {
			// Opens a fence that isn't closed within this piece.
			flushPending()
			pending.WriteString(piece)
			inFence = true
			continue
		}

		if isListBlock(piece) && pending.Len() > 0 && isListBlock(pending.String()) {
			pending.WriteString("\n\n")
			pending.WriteString(piece)
			continue
		}

		flushPending()
		pending.WriteString(piece)
		flushPending()
	}
	flushPending()

	return blocks
}

func isListBlock(s string) bool {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "- ") && !strings.HasPrefix(trimmed, "* ") && !isNumberedListItem(trimmed) {
			return false
		}
	}
	return true
}

func isNumberedListItem(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && s[i] == '.'
}

// overlapSuffix returns a suffix of text whose cumulative character length
// does not exceed overlap*4, breaking at a blank-line boundary where
// possible so the seed stays coherent.
func overlapSuffix(text string, overlapTokens int) string {
	maxChars := overlapTokens * 4
	if maxChars <= 0 {
		return ""
	}
	if len(text) <= maxChars {
		return strings.TrimSpace(text)
	}

	suffix := text[len(text)-maxChars:]
	if idx := strings.Index(suffix, "\n\n"); idx != -1 {
		suffix = suffix[idx+2:]
	}
	return strings.TrimSpace(suffix)
}

func prefixHeading(heading, text string) string {
	if heading == "" {
		return text
	}
	return fmt.Sprintf("%s\n\n%s", heading, text)
}

func chunkID(source string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return hex.EncodeToString(h[:])[:24]
}
