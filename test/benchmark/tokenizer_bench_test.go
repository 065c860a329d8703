package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/searchlite/searchlite/internal/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Positional inverted indexes map each term to the documents containing
        it, along with the ordered positions of every occurrence. Position lists make
        phrase queries and proximity operators cheap to evaluate: adjacency is a merge
        of two sorted lists, and a NEAR window is a distance check between candidate
        occurrences. The price is index size, every token contributes an entry.`,
	"long": strings.Repeat(`Full text engines normalize raw column content into searchable
        terms through case folding and separator splitting. The tokenizer assigns each
        surviving token a dense position so downstream phrase matching can reason about
        adjacency without reparsing the source text. Prefix queries expand over the
        ordered term dictionary, boolean operators combine sorted document sets, and
        matchinfo aggregates per-column hit statistics for relevance scoring layered
        on top. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(text)
				_ = tokens
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tokens := tokenizer.Tokenize(text)
			_ = tokens
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "red fox runs across the quiet river meadow "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(text)
				_ = tokens
			}
		})
	}
}
