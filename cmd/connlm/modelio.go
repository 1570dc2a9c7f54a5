package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wantee/connlm-go/pkg/model"
	"github.com/wantee/connlm-go/pkg/vocab"
)

// tokenizeLine maps a whitespace-separated line to vocabulary ids (OOV
// words map to vocab.Unk), SentEnd-terminated, matching pkg/reader's own
// tokenization convention.
func tokenizeLine(v *vocab.Vocab, line string) []int {
	fields := strings.Fields(line)
	words := make([]int, 0, len(fields)+1)
	for _, f := range fields {
		words = append(words, v.GetID(f))
	}
	words = append(words, vocab.SentEnd)
	return words
}

// readVocabText loads a vocabulary written by writeVocabText: one
// "word\tcount" line per id, in id order.
func readVocabText(path string) (*vocab.Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var words []string
	var counts []uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed vocab line %q", line)
		}
		count, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vocab count in %q: %w", line, err)
		}
		words = append(words, parts[0])
		counts = append(counts, count)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(words) < 2 || words[vocab.SentEnd] == "" {
		return nil, fmt.Errorf("%s does not contain a valid vocabulary (need at least SentEnd/Unk rows)", path)
	}
	return vocab.FromParts(words, counts), nil
}

// openTextFile opens a training/eval corpus file for reading.
func openTextFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

func loadModel(path string) (*model.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	m, err := model.Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", path, err)
	}
	return m, nil
}

func saveModel(path string, m *model.Model, filter model.Filter, shortQuantize, zeroCompress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := model.Save(f, m, filter, shortQuantize, zeroCompress); err != nil {
		return fmt.Errorf("saving model %s: %w", path, err)
	}
	return nil
}
